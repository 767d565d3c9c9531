package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productflow/models"
)

func TestTokenRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("test-secret")
	user := &models.User{Email: "a@example.com", TokenVersion: 3}
	user.ID = 42

	access, refresh, err := ti.GenerateJWTToken(user)
	require.NoError(t, err)

	claims, err := ti.ParseJWTToken(access, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.NotEmpty(t, claims.ID)

	_, err = ti.ParseJWTToken(refresh, TokenAccess)
	assert.Error(t, err, "refresh token must not pass as access token")
	_, err = ti.ParseJWTToken(refresh, TokenRefresh)
	assert.NoError(t, err)

	_, err = NewTokenIssuer("other").ParseJWTToken(access, TokenAccess)
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	ti := NewTokenIssuer("test-secret")
	issued := time.Now().Add(-time.Hour)
	ti.now = func() time.Time { return issued }
	access, _, err := ti.GenerateJWTToken(&models.User{})
	require.NoError(t, err)

	ti.now = time.Now
	_, err = ti.ParseJWTToken(access, TokenAccess)
	assert.Error(t, err)
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Email string `validate:"required,mailbox"`
		Type  string `validate:"required,work_item_type"`
		Role  string `validate:"omitempty,team_role"`
		Level string `validate:"omitempty,oneof=low medium high"`
	}

	assert.NoError(t, ValidateStruct(input{Email: "dev@example.com", Type: "bug", Role: "admin"}))

	err := ValidateStruct(input{Email: "not-an-email", Type: "epic", Role: "guest", Level: "urgent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email must be a valid email")
	assert.Contains(t, err.Error(), "type must be a known work item type")
	assert.Contains(t, err.Error(), "role must be owner, admin or member")
	assert.Contains(t, err.Error(), "level must be one of: low, medium, high")
}

func TestMailerRender(t *testing.T) {
	m := NewMailer("", 0, "", "", "no-reply@example.com", "ProductFlow")
	assert.False(t, m.Enabled())

	msg, err := m.Render(EmailData{
		Subject:  "Review requested",
		To:       []string{"lead@example.com"},
		Template: "review_decided",
		Data: ReviewEmail{
			Recipient:    "Lead",
			Actor:        "Ana",
			WorkItemName: "Dark mode",
			Status:       "rejected",
			Reason:       "Missing <rollout> plan",
			Link:         "https://app.example.com/w/1",
			Year:         2026,
		},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	body := buf.String()
	assert.Contains(t, body, "Dark mode")
	assert.Contains(t, body, "Missing &lt;rollout&gt; plan")
	assert.Contains(t, body, "lead@example.com")

	_, err = m.Render(EmailData{Template: "missing"})
	assert.Error(t, err)

	assert.NoError(t, m.Send(EmailData{Template: "review_reminder", To: []string{"x@example.com"}, Data: ReviewEmail{}}))
}
