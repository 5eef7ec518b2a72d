package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/FACorreiaa/techephi-auth/config"
	"github.com/FACorreiaa/techephi-auth/internal/api"
	"github.com/FACorreiaa/techephi-auth/internal/types"
)

type HandlerImpl struct {
	service  AuthService
	cfg      *config.Config
	logger   *slog.Logger
	validate *validator.Validate
}

func NewAuthHandlerImpl(service AuthService, cfg *config.Config, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		service:  service,
		cfg:      cfg,
		logger:   logger,
		validate: newValidator(),
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage keeps the endpoint's own message for missing fields and names the field
// for any other rule.
func validationMessage(err error, missing string) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return missing
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			continue
		case "email":
			return "Invalid email format"
		default:
			return fmt.Sprintf("Invalid value for %s", fe.Field())
		}
	}
	return missing
}

func requestMeta(r *http.Request) types.RequestMeta {
	return types.RequestMeta{
		IPAddress: api.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// publicMessage turns a classified error into the text sent to the caller. Authentication
// failures never carry detail so they cannot reveal which factor failed.
func publicMessage(err error, fallback string) string {
	e, ok := types.AsError(err)
	if !ok {
		return fallback
	}
	switch {
	case errors.Is(e, types.ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(e, types.ErrAccountDeactivated):
		return "Account is deactivated"
	case errors.Is(e, types.ErrAlreadyExists):
		return "User with this email already exists"
	}
	msg := e.Message
	if e.Kind == types.KindValidation {
		msg = e.Error()
	}
	if msg == "" {
		return fallback
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func (h *HandlerImpl) writeServiceError(w http.ResponseWriter, r *http.Request, l *slog.Logger, err error, fallback string) {
	status := api.StatusForError(err)
	if status == http.StatusInternalServerError {
		l.ErrorContext(r.Context(), fallback, slog.Any("error", err))
		api.ErrorResponse(w, r, status, fallback)
		return
	}
	l.WarnContext(r.Context(), fallback, slog.Any("error", err))
	api.ErrorResponse(w, r, status, publicMessage(err, fallback))
}

func (h *HandlerImpl) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Auth.RefreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.JWT.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *HandlerImpl) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Auth.RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *HandlerImpl) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(h.cfg.Auth.RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Register godoc
// @Summary      Register
// @Description  Creates an account and opens a session. The refresh token is set as an HttpOnly cookie.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration"
// @Success      201 {object} AuthResponse
// @Failure      400 {object} ErrorResponse "Missing fields, invalid email, role or password"
// @Failure      409 {object} ErrorResponse "Email already registered"
// @Failure      500 {object} ErrorResponse
// @Router       /auth/register [post]
func (h *HandlerImpl) Register(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "Register"))

	var req RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, validationMessage(err, "Email, password, and display name are required"))
		return
	}

	result, err := h.service.Register(r.Context(), RegisterParams{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        req.Role,
		Phone:       req.Phone,
	}, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, l, err, "Registration failed")
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	api.WriteJSONResponse(w, r, http.StatusCreated, AuthResponse{
		Success: true,
		User:    result.User,
		Token:   result.Token,
	})
}

// Login godoc
// @Summary      Login
// @Description  Exchanges credentials for an access token and a refresh cookie.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Credentials"
// @Success      200 {object} AuthResponse
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse "Invalid email or password"
// @Failure      403 {object} ErrorResponse "Account is deactivated"
// @Failure      500 {object} ErrorResponse
// @Router       /auth/login [post]
func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "Login"))

	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, validationMessage(err, "Email and password are required"))
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		h.writeServiceError(w, r, l, err, "Login failed")
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	api.WriteJSONResponse(w, r, http.StatusOK, AuthResponse{
		Success: true,
		User:    result.User,
		Token:   result.Token,
	})
}

// Refresh godoc
// @Summary      Refresh session
// @Description  Rotates the refresh cookie and returns a new access token.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} TokenResponse
// @Failure      401 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Router       /auth/refresh [post]
func (h *HandlerImpl) Refresh(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "Refresh"))

	token := h.refreshCookie(r)
	if token == "" {
		h.clearRefreshCookie(w)
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Refresh token not found")
		return
	}

	pair, err := h.service.RefreshToken(r.Context(), token)
	if err != nil {
		if api.StatusForError(err) == http.StatusUnauthorized {
			l.WarnContext(r.Context(), "Refresh rejected", slog.Any("error", err))
			h.clearRefreshCookie(w)
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired refresh token")
			return
		}
		h.writeServiceError(w, r, l, err, "Token refresh failed")
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken)
	api.WriteJSONResponse(w, r, http.StatusOK, TokenResponse{Success: true, Token: pair.Token})
}

// Logout godoc
// @Summary      Logout
// @Description  Revokes the refresh cookie if it is live and clears it. Always succeeds.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} Response
// @Router       /auth/logout [post]
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), h.refreshCookie(r), requestMeta(r))
	h.clearRefreshCookie(w)
	api.WriteJSONResponse(w, r, http.StatusOK, Response{Success: true})
}

// ForgotPassword godoc
// @Summary      Request password reset
// @Description  Publishes a reset link when the account exists. The response never reveals whether it does.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Email"
// @Success      200 {object} Response
// @Failure      400 {object} ErrorResponse
// @Router       /auth/forgot-password [post]
func (h *HandlerImpl) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, validationMessage(err, "Email is required"))
		return
	}

	_ = h.service.RequestPasswordReset(r.Context(), req.Email, requestMeta(r))
	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "If an account exists for this email, a reset link has been sent",
	})
}

// ResetPassword godoc
// @Summary      Reset password
// @Description  Consumes a single use reset token and sets a new password. Every session is ended.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Reset"
// @Success      200 {object} Response
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse "Reset token expired or invalid"
// @Failure      500 {object} ErrorResponse
// @Router       /auth/reset-password [post]
func (h *HandlerImpl) ResetPassword(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "ResetPassword"))

	var req ResetPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, validationMessage(err, "Token and new password are required"))
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, requestMeta(r)); err != nil {
		h.writeServiceError(w, r, l, err, "Password reset failed")
		return
	}
	h.clearRefreshCookie(w)
	api.WriteJSONResponse(w, r, http.StatusOK, Response{Success: true, Message: "Password has been reset"})
}

// ChangePassword godoc
// @Summary      Change password
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body ChangePasswordRequest true "Passwords"
// @Success      200 {object} Response
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      500 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /auth/change-password [post]
func (h *HandlerImpl) ChangePassword(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "ChangePassword"))

	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, validationMessage(err, "Current and new password are required"))
		return
	}

	err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		if errors.Is(err, types.ErrInvalidCredentials) {
			api.ErrorResponse(w, r, http.StatusUnauthorized, "Current password is incorrect")
			return
		}
		h.writeServiceError(w, r, l, err, "Password change failed")
		return
	}
	if h.cfg.Auth.RevokeSessionsOnPasswordChange {
		h.clearRefreshCookie(w)
	}
	api.WriteJSONResponse(w, r, http.StatusOK, Response{Success: true, Message: "Password updated"})
}

// Me godoc
// @Summary      Current user
// @Tags         Auth
// @Produce      json
// @Success      200 {object} UserResponse
// @Failure      401 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /auth/me [get]
func (h *HandlerImpl) Me(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "Me"))

	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, l, err, "Failed to load user")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, UserResponse{Success: true, User: user})
}

// SetUserStatus godoc
// @Summary      Activate or deactivate a user
// @Description  Deactivation revokes every refresh token of the user.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        userID path string true "User ID"
// @Param        request body SetUserStatusRequest true "Status"
// @Success      200 {object} Response
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/users/{userID}/status [patch]
func (h *HandlerImpl) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	l := h.logger.With(slog.String("handler", "SetUserStatus"))

	actorID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req SetUserStatusRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, validationMessage(err, "isActive is required"))
		return
	}

	if err := h.service.SetUserActive(r.Context(), actorID, userID, *req.IsActive, requestMeta(r)); err != nil {
		h.writeServiceError(w, r, l, err, "Failed to update user status")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, Response{Success: true})
}
