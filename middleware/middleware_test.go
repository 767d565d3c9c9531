package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"productflow/models"
	"productflow/store"
	"productflow/utils"
)

func TestCORSAllowsListedOrigins(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(DefaultCORSConfig("https://app.example.com")))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))
}

func TestProtectedAndRequireTeamMember(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	issuer := utils.NewTokenIssuer("middleware-test-secret")

	owner := models.User{Email: "owner@example.com", PasswordHash: "x"}
	require.NoError(t, st.CreateUser(ctx, &owner))
	stranger := models.User{Email: "stranger@example.com", PasswordHash: "x"}
	require.NoError(t, st.CreateUser(ctx, &stranger))
	team := models.Team{Name: "Acme"}
	require.NoError(t, st.CreateTeam(ctx, &team, owner.ID))

	app := fiber.New()
	app.Get("/teams/:teamId", Protected(issuer, st), RequireTeamMember(st), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	call := func(user *models.User, teamID string) int {
		access, _, err := issuer.GenerateJWTToken(user)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/teams/"+teamID, nil)
		req.Header.Set("Authorization", "Bearer "+access)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	teamID := strconv.Itoa(int(team.ID))
	assert.Equal(t, http.StatusOK, call(&owner, teamID))
	assert.Equal(t, http.StatusForbidden, call(&stranger, teamID))
	assert.Equal(t, http.StatusBadRequest, call(&owner, "abc"))

	// a token minted before the version bump is refused
	access, _, err := issuer.GenerateJWTToken(&owner)
	require.NoError(t, err)
	require.NoError(t, st.BumpTokenVersion(ctx, owner.ID))
	req := httptest.NewRequest(http.MethodGet, "/teams/"+teamID, nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: access})
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWriteRateLimiterSkipsReads(t *testing.T) {
	app := fiber.New()
	app.Use(WriteRateLimiter(1, nil))
	app.All("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWriteRateLimiterBudgetIsPerUser(t *testing.T) {
	app := fiber.New()
	api := app.Group("/api", func(c *fiber.Ctx) error {
		c.Locals(LocalUser, &models.User{Model: gorm.Model{ID: utils.ParseUint(c.Get("X-User"))}})
		return c.Next()
	}, WriteRateLimiter(1, nil))
	api.Post("/a", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	api.Post("/b", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	post := func(path, user string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post("/api/a", "1"))
	assert.Equal(t, http.StatusTooManyRequests, post("/api/b", "1"))
	assert.Equal(t, http.StatusOK, post("/api/b", "2"))
}
