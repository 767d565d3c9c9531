package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"productflow/middleware"
	"productflow/models"
	"productflow/store"
	"productflow/utils"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,mailbox"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,mailbox"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

type AuthController struct {
	Store  store.Store
	Issuer *utils.TokenIssuer
	Logger *logrus.Entry
}

func NewAuthController(st store.Store, issuer *utils.TokenIssuer) *AuthController {
	return &AuthController{
		Store:  st,
		Issuer: issuer,
		Logger: utils.Component("auth"),
	}
}

func (ac *AuthController) issue(c *fiber.Ctx, status int, user *models.User) error {
	accessToken, refreshToken, err := ac.Issuer.GenerateJWTToken(user)
	if err != nil {
		utils.LogError("token_generation", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate tokens", err)
	}
	return c.Status(status).JSON(AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	})
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to hash password", err)
	}

	user := &models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hashedPassword),
		IsActive:     true,
		Timezone:     "UTC",
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = &name
	}

	if err := ac.Store.CreateUser(c.UserContext(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Email already registered", nil)
		}
		return respondError(c, err, "Failed to create user")
	}

	ac.Logger.WithField("user_id", user.ID).Info("User registered")
	return ac.issue(c, fiber.StatusCreated, user)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	user, err := ac.Store.UserByEmail(c.UserContext(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid email or password", nil)
	}
	if !user.IsActive {
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Account is not active", nil)
	}

	return ac.issue(c, fiber.StatusOK, user)
}

// RefreshToken trades a refresh token for a new token pair. Tokens issued
// before the last logout or password change are rejected.
func (ac *AuthController) RefreshToken(c *fiber.Ctx) error {
	var req RefreshTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	claims, err := ac.Issuer.ParseJWTToken(req.RefreshToken, utils.TokenRefresh)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", nil)
	}
	user, err := ac.Store.UserByID(c.UserContext(), claims.UserID)
	if err != nil || !user.IsActive || user.TokenVersion != claims.TokenVersion {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", nil)
	}

	return ac.issue(c, fiber.StatusOK, user)
}

// Logout revokes every token issued to the user so far.
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if err := ac.Store.BumpTokenVersion(c.UserContext(), user.ID); err != nil {
		return respondError(c, err, "Failed to log out")
	}
	return c.JSON(utils.SuccessResponse(nil))
}

func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	user := middleware.CurrentUser(c)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid current password", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to hash password", err)
	}
	if err := ac.Store.UpdatePassword(c.UserContext(), user.ID, string(hashedPassword)); err != nil {
		return respondError(c, err, "Failed to update password")
	}

	// Invalidate existing tokens
	if err := ac.Store.BumpTokenVersion(c.UserContext(), user.ID); err != nil {
		return respondError(c, err, "Failed to update password")
	}
	updated, err := ac.Store.UserByID(c.UserContext(), user.ID)
	if err != nil {
		return respondError(c, err, "Failed to update password")
	}
	return ac.issue(c, fiber.StatusOK, updated)
}

func (ac *AuthController) GetCurrentUser(c *fiber.Ctx) error {
	return c.JSON(utils.SuccessResponse(middleware.CurrentUser(c)))
}
