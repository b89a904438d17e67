package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims is the token shape issued by the identity provider. Subject carries the
// user id.
type Claims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
}

type JWTConfig struct {
	Secret []byte
	Issuer string
}

// Verifier checks HS256 tokens and turns their claims into a Caller.
type Verifier struct {
	cfg JWTConfig
}

func NewVerifier(cfg JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

func (v *Verifier) Verify(tokenStr string) (appointment.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.cfg.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return appointment.Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return callerFromClaims(claims.Subject, claims.Role, claims.ClinicID)
}

// IssueToken signs a token for the given caller. Used by local tooling; production
// tokens come from the identity provider.
func (v *Verifier) IssueToken(caller appointment.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.UserID.String(),
			Issuer:    v.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(caller.Role),
	}
	if caller.ClinicID != nil {
		claims.ClinicID = caller.ClinicID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func callerFromClaims(subject, role, clinicID string) (appointment.Caller, error) {
	userID, err := uuid.Parse(subject)
	if err != nil {
		return appointment.Caller{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	caller := appointment.Caller{UserID: userID, Role: appointment.RoleUser}

	switch appointment.Role(role) {
	case "", appointment.RoleUser:
	case appointment.RoleAdmin:
		caller.Role = appointment.RoleAdmin
	case appointment.RoleClinic:
		id, err := uuid.Parse(clinicID)
		if err != nil {
			return appointment.Caller{}, fmt.Errorf("%w: clinic role without clinic_id", ErrInvalidToken)
		}
		caller.Role = appointment.RoleClinic
		caller.ClinicID = &id
	default:
		return appointment.Caller{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	return caller, nil
}
