package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

type contextKey string

const callerKey contextKey = "caller"

const (
	ModeDevelopment = "development"
	ModeJWT         = "jwt"
)

// Development mode headers.
const (
	HeaderUserID   = "X-User-ID"
	HeaderRole     = "X-User-Role"
	HeaderClinicID = "X-Clinic-ID"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (appointment.Caller, error)
}

type BearerAuthenticator struct {
	verifier *Verifier
}

func NewBearerAuthenticator(v *Verifier) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: v}
}

func (a *BearerAuthenticator) Authenticate(r *http.Request) (appointment.Caller, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return appointment.Caller{}, ErrMissingCredentials
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return appointment.Caller{}, fmt.Errorf("%w: invalid authorization format", ErrInvalidToken)
	}

	return a.verifier.Verify(strings.TrimSpace(parts[1]))
}

// HeaderAuthenticator trusts identity headers as sent. Local development only.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (appointment.Caller, error) {
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		return appointment.Caller{}, ErrMissingCredentials
	}
	return callerFromClaims(userID, r.Header.Get(HeaderRole), r.Header.Get(HeaderClinicID))
}

// NewAuthenticator picks the authenticator for the configured mode.
func NewAuthenticator(mode string, cfg JWTConfig) (Authenticator, error) {
	switch mode {
	case ModeJWT:
		if len(cfg.Secret) == 0 {
			return nil, fmt.Errorf("jwt auth requires a secret")
		}
		return NewBearerAuthenticator(NewVerifier(cfg)), nil
	case ModeDevelopment:
		return HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// Middleware rejects requests without a valid caller with 401 and stores the
// caller on the request context otherwise.
func Middleware(authn Authenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := authn.Authenticate(r)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
				writeUnauthorized(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func WithCaller(ctx context.Context, caller appointment.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

func CallerFromContext(ctx context.Context) (appointment.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(appointment.Caller)
	return caller, ok
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="clinic-slot-booking"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"details": err.Error(),
	})
}
