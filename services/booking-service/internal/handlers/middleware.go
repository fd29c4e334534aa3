package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/medibook/libs/auth"
	"github.com/md-rashed-zaman/medibook/libs/httpx"
	"github.com/md-rashed-zaman/medibook/services/booking-service/internal/model"
)

type TokenVerifier interface {
	Verify(raw string) (*auth.Claims, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (model.User, error)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

// PrincipalFromContext returns the authenticated user set by Authenticator.
func PrincipalFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(principalKey{}).(model.User)
	return u, ok
}

// Authenticator resolves the bearer token to a user.
type Authenticator struct {
	verifier TokenVerifier
	users    UserLookup
	logger   *slog.Logger
}

func NewAuthenticator(verifier TokenVerifier, users UserLookup, logger *slog.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, users: users, logger: logger}
}

func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid Authorization header")
			return
		}
		claims, err := a.verifier.Verify(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
			return
		}
		user, err := a.users.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized", "account no longer exists")
				return
			}
			a.logger.Error("load principal failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
			httpx.WriteError(w, http.StatusInternalServerError, "Internal server error", "")
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), user)))
	}
}
