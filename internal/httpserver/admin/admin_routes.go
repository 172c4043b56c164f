package admin

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/auth"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
)

func registerAdminAuthRoutes(router fiber.Router, container *app.Container) {
	handler := newAdminAuthHandler(container)
	router.Post("/login", handler.login)
	router.Post("/logout", handler.logout)
	router.Get("/logout", handler.logout)
}

func registerAdminCredentialRoutes(router fiber.Router, container *app.Container) {
	handler := newAdminAuthHandler(container)
	router.Put("/admin-credentials", handler.updateCredentials)
}

type adminAuthHandler struct {
	settings *configstore.Settings
	tokens   *auth.TokenManager
	cfg      config.AdminConfig
	logger   *slog.Logger
}

func newAdminAuthHandler(container *app.Container) *adminAuthHandler {
	return &adminAuthHandler{
		settings: container.Settings,
		tokens:   container.Tokens,
		cfg:      container.Config.Admin,
		logger:   container.Logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Success     bool      `json:"success"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
}

type credentialsRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *adminAuthHandler) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "username and password required")
	}

	ok, err := h.checkPassword(c, req.Username, req.Password)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	if !ok {
		return writeFailure(c, fiber.StatusUnauthorized, "用户名或密码错误")
	}

	token, session, err := h.tokens.Issue(req.Username)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	h.setSessionCookie(c, token, session.ExpiresAt)
	return c.JSON(tokenResponse{
		Success:     true,
		AccessToken: token,
		ExpiresAt:   session.ExpiresAt,
		Username:    session.Username,
	})
}

func (h *adminAuthHandler) logout(c *fiber.Ctx) error {
	h.clearSessionCookie(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *adminAuthHandler) updateCredentials(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.NewPassword == "" {
		return writeFailure(c, fiber.StatusBadRequest, "username and new_password required")
	}

	creds, err := h.settings.Admin(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	ok, err := auth.VerifyPassword(req.CurrentPassword, creds.PasswordHash)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	if !ok {
		return writeFailure(c, fiber.StatusForbidden, "current password is incorrect")
	}
	if err := h.settings.SetAdmin(userContext(c), req.Username, req.NewPassword); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	h.logger.Info("admin credentials updated", slog.String("username", req.Username))
	return c.JSON(fiber.Map{"success": true})
}

func (h *adminAuthHandler) checkPassword(c *fiber.Ctx, username, password string) (bool, error) {
	creds, err := h.settings.Admin(userContext(c))
	if err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !auth.SecretsEqual(username, creds.Username) {
		return false, nil
	}
	return auth.VerifyPassword(password, creds.PasswordHash)
}

func (h *adminAuthHandler) setSessionCookie(c *fiber.Ctx, token string, expires time.Time) {
	if h.cfg.Session.CookieName == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.Session.CookieName,
		Value:    token,
		HTTPOnly: true,
		Secure:   strings.EqualFold(c.Protocol(), "https"),
		Path:     "/",
		Expires:  expires,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *adminAuthHandler) clearSessionCookie(c *fiber.Ctx) {
	if h.cfg.Session.CookieName == "" {
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.Session.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   strings.EqualFold(c.Protocol(), "https"),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
