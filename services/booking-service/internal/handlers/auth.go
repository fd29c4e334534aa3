package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/medibook/libs/auth"
	"github.com/md-rashed-zaman/medibook/libs/email"
	"github.com/md-rashed-zaman/medibook/libs/httpx"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/storage"
)

const minPasswordLength = 6

type UserStore interface {
	UserLookup
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
}

type RefreshStore interface {
	Create(ctx context.Context, userID int64, hash string, expiresAt time.Time) error
	GetByHash(ctx context.Context, hash string) (storage.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, userID int64, newHash string, expiresAt time.Time) error
	RevokeByHash(ctx context.Context, hash string) error
}

type AuthHandler struct {
	issuer     *auth.Issuer
	users      UserStore
	refresh    RefreshStore
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewAuthHandler(issuer *auth.Issuer, users UserStore, refresh RefreshStore, refreshTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		issuer:     issuer,
		users:      users,
		refresh:    refresh,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName string  `json:"fullName"`
	Username *string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenResponse struct {
	User         model.User `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	TokenType    string     `json:"tokenType"`
	ExpiresIn    int64      `json:"expiresIn"`
}

func (req *registerRequest) validate() string {
	switch {
	case !email.ValidAddress(req.Email):
		return "Invalid email address"
	case len(req.Password) < minPasswordLength:
		return "Password must be at least 6 characters"
	case req.FullName == "":
		return "Full name is required"
	}
	return ""
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid registration", err.Error())
		return
	}
	req.Email = storage.NormalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Username != nil {
		if u := strings.TrimSpace(*req.Username); u != "" {
			req.Username = &u
		} else {
			req.Username = nil
		}
	}
	if msg := req.validate(); msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid registration", msg)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.internal(w, r, "hash password failed", err)
		return
	}
	user, err := h.users.Create(r.Context(), model.User{
		Username:     req.Username,
		PasswordHash: hash,
		FullName:     req.FullName,
		Email:        req.Email,
		Role:         model.RolePatient,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrEmailTaken):
			httpx.WriteError(w, http.StatusConflict, "Email already registered", "")
			return
		case errors.Is(err, storage.ErrUsernameTaken):
			httpx.WriteError(w, http.StatusConflict, "Username already taken", "")
			return
		}
		h.internal(w, r, "create user failed", err)
		return
	}
	h.logger.Info("user registered", "user_id", user.ID)
	h.issueTokens(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid login", err.Error())
		return
	}
	req.Email = storage.NormalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid login", "email and password required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid credentials", "")
			return
		}
		h.internal(w, r, "lookup user failed", err)
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}
	h.issueTokens(w, r, http.StatusOK, user)
}

// Refresh exchanges a refresh token for a new pair. The old token is revoked.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid refresh request", "refreshToken required")
		return
	}

	stored, err := h.refresh.GetByHash(r.Context(), auth.HashRefreshToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid refresh token", "")
			return
		}
		h.internal(w, r, "lookup refresh token failed", err)
		return
	}
	if !stored.Active(h.now()) {
		httpx.WriteError(w, http.StatusUnauthorized, "Invalid refresh token", "")
		return
	}
	user, err := h.users.GetByID(r.Context(), stored.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid refresh token", "")
			return
		}
		h.internal(w, r, "lookup user failed", err)
		return
	}

	raw, hash, err := auth.NewRefreshToken()
	if err != nil {
		h.internal(w, r, "generate refresh token failed", err)
		return
	}
	if err := h.refresh.Rotate(r.Context(), stored.ID, user.ID, hash, h.now().Add(h.refreshTTL)); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid refresh token", "")
			return
		}
		h.internal(w, r, "rotate refresh token failed", err)
		return
	}
	h.writeTokens(w, r, http.StatusOK, user, raw)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid logout request", "refreshToken required")
		return
	}
	if err := h.refresh.RevokeByHash(r.Context(), auth.HashRefreshToken(req.RefreshToken)); err != nil {
		h.internal(w, r, "revoke refresh token failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) issueTokens(w http.ResponseWriter, r *http.Request, status int, user model.User) {
	raw, hash, err := auth.NewRefreshToken()
	if err != nil {
		h.internal(w, r, "generate refresh token failed", err)
		return
	}
	if err := h.refresh.Create(r.Context(), user.ID, hash, h.now().Add(h.refreshTTL)); err != nil {
		h.internal(w, r, "store refresh token failed", err)
		return
	}
	h.writeTokens(w, r, status, user, raw)
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, r *http.Request, status int, user model.User, refreshToken string) {
	access, err := h.issuer.Sign(user.ID, user.Email, user.Role)
	if err != nil {
		h.internal(w, r, "sign access token failed", err)
		return
	}
	httpx.WriteJSON(w, status, tokenResponse{
		User:         user,
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.issuer.TTL().Seconds()),
	})
}

func (h *AuthHandler) internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
	httpx.WriteError(w, http.StatusInternalServerError, "Internal server error", "")
}

var _ UserStore = (*storage.UserRepository)(nil)
var _ RefreshStore = (*storage.RefreshRepository)(nil)
