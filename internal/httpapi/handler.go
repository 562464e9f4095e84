package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumensocial/identity/internal/account"
	"github.com/lumensocial/identity/internal/auth"
	"github.com/lumensocial/identity/internal/googleauth"
)

const stateCookie = "oauth_state"

// Handler translates HTTP requests into auth service calls and domain
// errors into contractual status codes.
type Handler struct {
	svc    *auth.Service
	google *googleauth.Client
	logger *zap.Logger
}

// NewHandler creates the handler set.
func NewHandler(svc *auth.Service, google *googleauth.Client, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, google: google, logger: logger}
}

// Register handles POST /register.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		fail(c, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}
	if violations := auth.ValidatePassword(req.Password); len(violations) > 0 {
		fail(c, http.StatusBadRequest, auth.JoinViolations(violations))
		return
	}

	if err := h.svc.Register(c.Request.Context(), req); err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			fail(c, http.StatusBadRequest, "Email or username already in use.")
			return
		}
		h.internalError(c, err)
		return
	}

	respond(c, http.StatusCreated, "Registration successful! Please verify your email to activate your account.", nil)
}

// VerifyEmail handles GET /verify-email?token=.
func (h *Handler) VerifyEmail(c *gin.Context) {
	if err := h.svc.VerifyEmail(c.Request.Context(), c.Query("token")); err != nil {
		if errors.Is(err, auth.ErrInvalidVerification) {
			fail(c, http.StatusBadRequest, "Invalid or expired verification token.")
			return
		}
		h.internalError(c, err)
		return
	}
	respond(c, http.StatusOK, "Email verified successfully.", nil)
}

// Login handles POST /login.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Missing required fields: email, password")
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondLoginError(c, err)
		return
	}

	if result.MFARequired {
		respond(c, http.StatusOK, "MFA required. A code has been sent to your email.", gin.H{
			"mfaRequired": true,
			"mfaToken":    result.MFAToken,
		})
		return
	}
	respond(c, http.StatusOK, "Login successful.", gin.H{"token": result.AccessToken})
}

// VerifyMFA handles POST /mfa-verify.
func (h *Handler) VerifyMFA(c *gin.Context) {
	var req struct {
		MFAToken string `json:"mfaToken"`
		Code     string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MFAToken == "" || req.Code == "" {
		fail(c, http.StatusBadRequest, "Missing required fields: mfaToken, code")
		return
	}

	result, err := h.svc.VerifyMFA(c.Request.Context(), req.MFAToken, req.Code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidChallenge) {
			fail(c, http.StatusUnauthorized, "Invalid or expired MFA token or code.")
			return
		}
		h.internalError(c, err)
		return
	}
	respond(c, http.StatusOK, "Login successful.", gin.H{"token": result.AccessToken})
}

// RequestPasswordReset handles POST /password-reset/request. The response is
// identical whether or not the account exists.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		fail(c, http.StatusBadRequest, "Missing required fields: email")
		return
	}

	if err := h.svc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.internalError(c, err)
		return
	}
	respond(c, http.StatusOK, "If the email exists, a password reset link has been sent.", nil)
}

// ConfirmPasswordReset handles POST /password-reset/confirm.
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Missing required fields: token, password")
		return
	}
	if violations := auth.ValidatePassword(req.Password); len(violations) > 0 {
		fail(c, http.StatusBadRequest, auth.JoinViolations(violations))
		return
	}

	if err := h.svc.ConfirmPasswordReset(c.Request.Context(), req.Token, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidResetToken) {
			fail(c, http.StatusUnauthorized, "Invalid or expired reset token.")
			return
		}
		h.internalError(c, err)
		return
	}
	respond(c, http.StatusOK, "Password has been reset.", nil)
}

// Logout handles POST /logout on protected routes: server-side revocation of
// the presented session.
func (h *Handler) Logout(c *gin.Context) {
	jti, ok := CurrentSessionID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized: invalid token.")
		return
	}
	if err := h.svc.Logout(c.Request.Context(), jti); err != nil {
		h.internalError(c, err)
		return
	}
	respond(c, http.StatusOK, "Logged out.", nil)
}

// Me handles GET /me on protected routes.
func (h *Handler) Me(c *gin.Context) {
	principal, ok := CurrentPrincipal(c)
	if !ok {
		fail(c, http.StatusUnauthorized, "Unauthorized: invalid token.")
		return
	}
	respond(c, http.StatusOK, "OK", principal)
}

// GoogleRedirect handles GET /google: the provider redirect with an
// anti-forgery state cookie.
func (h *Handler) GoogleRedirect(c *gin.Context) {
	if !h.google.Enabled() {
		fail(c, http.StatusNotFound, "Google sign-in is not configured.")
		return
	}

	state := uuid.NewString()
	c.SetCookie(stateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusFound, h.google.AuthURL(state))
}

// GoogleCallback handles GET /google/callback.
func (h *Handler) GoogleCallback(c *gin.Context) {
	if !h.google.Enabled() {
		fail(c, http.StatusNotFound, "Google sign-in is not configured.")
		return
	}

	state := c.Query("state")
	cookieState, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != cookieState {
		fail(c, http.StatusUnauthorized, "Invalid sign-in state.")
		return
	}

	code := c.Query("code")
	if code == "" {
		fail(c, http.StatusBadRequest, "Missing required fields: code")
		return
	}

	profile, err := h.google.FetchProfile(c.Request.Context(), code)
	if err != nil {
		fail(c, http.StatusUnauthorized, "Google sign-in failed.")
		return
	}

	result, err := h.svc.GoogleSignIn(c.Request.Context(), profile)
	if err != nil {
		if errors.Is(err, auth.ErrAccountBanned) {
			fail(c, http.StatusForbidden, "This account has been banned.")
			return
		}
		h.internalError(c, err)
		return
	}
	respond(c, http.StatusOK, "Login successful.", gin.H{"token": result.AccessToken})
}

func (h *Handler) respondLoginError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "Incorrect email or password.")
	case errors.Is(err, auth.ErrAccountLocked):
		fail(c, http.StatusTooManyRequests, "Too many failed login attempts. Please try again later.")
	case errors.Is(err, auth.ErrAccountBanned):
		fail(c, http.StatusForbidden, "This account has been banned.")
	case errors.Is(err, auth.ErrAccountUnverified):
		fail(c, http.StatusForbidden, "Please verify your email before logging in.")
	case errors.Is(err, auth.ErrPasswordLoginUnavailable):
		fail(c, http.StatusForbidden, "This account uses Google sign-in.")
	default:
		h.internalError(c, err)
	}
}

// internalError is the single catch-all responder: generic message out,
// detail only in the log.
func (h *Handler) internalError(c *gin.Context, err error) {
	h.logger.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	fail(c, http.StatusInternalServerError, "Internal server error.")
}
