package auth

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/concierge-voice/domain/entities"
	"github.com/satriahrh/concierge-voice/domain/repositories"
)

// Token roles
const (
	RoleDevice = "device"
	RoleRelay  = "relay"
)

const relayTokenTTL = 30 * time.Minute

var (
	ErrMissingSecret = errors.New("signing secret is required")
	ErrInvalidRole   = errors.New("token role is not allowed here")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	DeviceID string `json:"device_id,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewSigner creates a signer whose device tokens live for ttl
func NewSigner(secret string, ttl time.Duration, clk clock.Clock) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Signer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// GenerateDeviceToken generates a JWT token for device authentication
func (s *Signer) GenerateDeviceToken(deviceID string) (string, time.Time, error) {
	if deviceID == "" {
		return "", time.Time{}, errors.New("device id is required")
	}
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	token, err := s.sign(&JWTClaims{
		DeviceID: deviceID,
		Role:     RoleDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	return token, expiresAt, err
}

// ValidateToken validates a JWT token and returns the claims
func (s *Signer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}

// ValidateDeviceToken validates a token and requires the device role
func (s *Signer) ValidateDeviceToken(tokenString string) (*JWTClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleDevice {
		return nil, ErrInvalidRole
	}
	if claims.DeviceID == "" {
		return nil, errors.New("device id not found in token")
	}
	return claims, nil
}

func (s *Signer) sign(claims *JWTClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// RelayCredentials mints short-lived bearer tokens presented to the speech relay
type RelayCredentials struct {
	signer  *Signer
	subject string
}

var _ repositories.CredentialProvider = (*RelayCredentials)(nil)

// NewRelayCredentials creates a provider signing with the relay's shared secret
func NewRelayCredentials(secret, subject string, clk clock.Clock) (*RelayCredentials, error) {
	signer, err := NewSigner(secret, relayTokenTTL, clk)
	if err != nil {
		return nil, err
	}
	return &RelayCredentials{signer: signer, subject: subject}, nil
}

func (r *RelayCredentials) Credential(ctx context.Context) (entities.Credential, error) {
	if err := ctx.Err(); err != nil {
		return entities.Credential{}, err
	}
	now := r.signer.clock.Now()
	expiresAt := now.Add(r.signer.ttl)
	token, err := r.signer.sign(&JWTClaims{
		Role: RoleRelay,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   r.subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return entities.Credential{}, err
	}
	return entities.Credential{Kind: entities.CredentialBearer, Token: token, ExpiresAt: expiresAt}, nil
}

// StaticCredentials hands out a fixed API key
type StaticCredentials struct {
	Key string
}

var _ repositories.CredentialProvider = StaticCredentials{}

func (s StaticCredentials) Credential(ctx context.Context) (entities.Credential, error) {
	if s.Key == "" {
		return entities.Credential{}, ErrMissingSecret
	}
	return entities.Credential{Kind: entities.CredentialAPIKey, Token: s.Key}, nil
}
