// Package token issues and verifies the signed access and refresh tokens.
//
// Access and refresh tokens are HS256 JWTs signed with independent secrets,
// so a leaked token of one kind is never accepted as the other.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessLifespan  = 15 * time.Minute
	DefaultRefreshLifespan = 30 * 24 * time.Hour
)

var (
	// ErrInvalidToken is returned for any verification failure: bad signature,
	// expiry, malformed input or missing claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned by New for unusable configuration.
	ErrConfig = errors.New("invalid token config")
)

// Claims is the payload carried by both token kinds.
type Claims struct {
	AccountID string `json:"id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh token pair minted from the same claims.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Config holds the signing secrets and lifespans.
type Config struct {
	AccessSecret    string
	RefreshSecret   string
	AccessLifespan  time.Duration
	RefreshLifespan time.Duration
	// Issuer, when set, is written to and required in the "iss" claim.
	Issuer string
	// Leeway tolerates clock skew when checking exp/iat.
	Leeway time.Duration
}

// Service mints and verifies tokens. It is safe for concurrent use.
type Service struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessLifespan  time.Duration
	refreshLifespan time.Duration
	issuer          string
	parser          *jwt.Parser
	now             func() time.Time
}

// New validates cfg and returns a Service. Zero lifespans take the defaults.
func New(cfg Config) (*Service, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%w: access and refresh secrets are required", ErrConfig)
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if cfg.AccessLifespan == 0 {
		cfg.AccessLifespan = DefaultAccessLifespan
	}
	if cfg.RefreshLifespan == 0 {
		cfg.RefreshLifespan = DefaultRefreshLifespan
	}
	if cfg.AccessLifespan < 0 || cfg.RefreshLifespan < 0 || cfg.Leeway < 0 {
		return nil, fmt.Errorf("%w: lifespans must be positive", ErrConfig)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Service{
		accessSecret:    []byte(cfg.AccessSecret),
		refreshSecret:   []byte(cfg.RefreshSecret),
		accessLifespan:  cfg.AccessLifespan,
		refreshLifespan: cfg.RefreshLifespan,
		issuer:          cfg.Issuer,
		parser:          jwt.NewParser(opts...),
		now:             time.Now,
	}, nil
}

// AccessLifespan returns the configured access-token lifetime.
func (s *Service) AccessLifespan() time.Duration { return s.accessLifespan }

// RefreshLifespan returns the configured refresh-token lifetime.
func (s *Service) RefreshLifespan() time.Duration { return s.refreshLifespan }

func (s *Service) sign(c Claims, secret []byte, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := &Claims{
		AccountID: c.AccountID,
		Role:      c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.AccountID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			// unique per mint so two pairs issued in the same second differ
			ID: uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueAccessToken signs c with the access secret.
func (s *Service) IssueAccessToken(c Claims) (string, error) {
	return s.sign(c, s.accessSecret, s.accessLifespan)
}

// IssueRefreshToken signs c with the refresh secret.
func (s *Service) IssueRefreshToken(c Claims) (string, error) {
	return s.sign(c, s.refreshSecret, s.refreshLifespan)
}

// IssueTokenPair mints an access and a refresh token from the same claims.
func (s *Service) IssueTokenPair(c Claims) (Pair, error) {
	access, err := s.IssueAccessToken(c)
	if err != nil {
		return Pair{}, fmt.Errorf("access token: %w", err)
	}
	refresh, err := s.IssueRefreshToken(c)
	if err != nil {
		return Pair{}, fmt.Errorf("refresh token: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Service) verify(raw string, secret []byte) (*Claims, error) {
	tok, err := s.parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing id or role claim", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyAccessToken checks raw against the access secret.
func (s *Service) VerifyAccessToken(raw string) (*Claims, error) {
	return s.verify(raw, s.accessSecret)
}

// VerifyRefreshToken checks raw against the refresh secret.
func (s *Service) VerifyRefreshToken(raw string) (*Claims, error) {
	return s.verify(raw, s.refreshSecret)
}
