package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

func testVerifier() *Verifier {
	return NewVerifier(JWTConfig{Secret: []byte("test-secret"), Issuer: "calm-compass"})
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := testVerifier()
	clinicID := uuid.New()
	want := appointment.Caller{UserID: uuid.New(), Role: appointment.RoleClinic, ClinicID: &clinicID}

	token, err := v.IssueToken(want, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, appointment.RoleClinic, got.Role)
	require.NotNil(t, got.ClinicID)
	assert.Equal(t, clinicID, *got.ClinicID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := testVerifier()
	user := appointment.Caller{UserID: uuid.New(), Role: appointment.RoleUser}

	expired, err := v.IssueToken(user, -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewVerifier(JWTConfig{Secret: []byte("other"), Issuer: "calm-compass"}).IssueToken(user, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewVerifier(JWTConfig{Secret: []byte("test-secret"), Issuer: "someone-else"}).IssueToken(user, time.Hour)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "calm-compass",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestCallerFromClaims_Roles(t *testing.T) {
	userID := uuid.New().String()

	c, err := callerFromClaims(userID, "", "")
	require.NoError(t, err)
	assert.Equal(t, appointment.RoleUser, c.Role)

	c, err = callerFromClaims(userID, "admin", "")
	require.NoError(t, err)
	assert.True(t, c.IsAdmin())

	_, err = callerFromClaims(userID, "clinic", "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = callerFromClaims(userID, "root", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware_Bearer(t *testing.T) {
	v := testVerifier()
	authn := NewBearerAuthenticator(v)

	var seen appointment.Caller
	handler := Middleware(authn, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unauthorized"`)

	user := appointment.Caller{UserID: uuid.New(), Role: appointment.RoleUser}
	token, err := v.IssueToken(user, time.Hour)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, user.UserID, seen.UserID)
}

func TestMiddleware_DevelopmentHeaders(t *testing.T) {
	authn, err := NewAuthenticator(ModeDevelopment, JWTConfig{})
	require.NoError(t, err)

	clinicID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, uuid.New().String())
	req.Header.Set(HeaderRole, "clinic")
	req.Header.Set(HeaderClinicID, clinicID.String())

	caller, err := authn.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, caller.OwnsClinic(clinicID))

	_, err = authn.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNewAuthenticator_JWTNeedsSecret(t *testing.T) {
	_, err := NewAuthenticator(ModeJWT, JWTConfig{})
	assert.Error(t, err)

	_, err = NewAuthenticator("basic", JWTConfig{})
	assert.Error(t, err)
}
