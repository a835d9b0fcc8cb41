package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	appbilling "github.com/rentbill/backend/internal/application/billing"
	"github.com/rentbill/backend/internal/infrastructure/config"
)

// Common errors
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidClaims       = errors.New("invalid token claims")
	ErrTokenNotYetValid    = errors.New("token is not yet valid")
	ErrInvalidRole         = errors.New("invalid role in claims")
	ErrMissingUserID       = errors.New("missing user_id in claims")
	ErrMissingLandlordID   = errors.New("missing landlord_id in claims")
	ErrMissingTenantID     = errors.New("missing tenant_id in claims")
	ErrSecretNotConfigured = errors.New("jwt secret is not configured")
)

// Claims are the billing API's JWT claims. Tokens are issued by the
// identity service; this package only needs to read them.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string          `json:"user_id"`
	Role       appbilling.Role `json:"role"`
	LandlordID string          `json:"landlord_id,omitempty"`
	TenantID   string          `json:"tenant_id,omitempty"`
}

// Identity converts validated claims into the caller identity used by the
// billing services
func (c *Claims) Identity() (appbilling.Identity, error) {
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return appbilling.Identity{}, ErrMissingUserID
	}
	identity := appbilling.Identity{Role: c.Role, UserID: userID}

	if c.LandlordID != "" {
		if identity.LandlordID, err = uuid.Parse(c.LandlordID); err != nil {
			return appbilling.Identity{}, ErrInvalidClaims
		}
	}
	if c.TenantID != "" {
		if identity.TenantID, err = uuid.Parse(c.TenantID); err != nil {
			return appbilling.Identity{}, ErrInvalidClaims
		}
	}
	return identity, nil
}

// GetExpiresAtTime returns the token's expiration time as time.Time
func (c *Claims) GetExpiresAtTime() time.Time {
	if c.ExpiresAt != nil {
		return c.ExpiresAt.Time
	}
	return time.Time{}
}

// JWTService signs and validates HS256 access tokens
type JWTService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewJWTService creates a new JWT service
func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{
		secret:     []byte(cfg.Secret),
		expiration: cfg.AccessTokenExpiration,
		issuer:     cfg.Issuer,
	}
}

// GenerateTokenInput contains input for token generation
type GenerateTokenInput struct {
	UserID     uuid.UUID
	Role       appbilling.Role
	LandlordID uuid.UUID
	TenantID   uuid.UUID
}

// GenerateToken signs an access token. It is used by tooling and tests;
// production tokens come from the identity service with the same secret.
func (s *JWTService) GenerateToken(input GenerateTokenInput) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrSecretNotConfigured
	}

	now := time.Now()
	expiresAt := now.Add(s.expiration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   input.UserID.String(),
			Audience:  jwt.ClaimStrings{s.issuer},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: input.UserID.String(),
		Role:   input.Role,
	}
	if input.LandlordID != uuid.Nil {
		claims.LandlordID = input.LandlordID.String()
	}
	if input.TenantID != uuid.Nil {
		claims.TenantID = input.TenantID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken validates a token and the claims each role requires
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	if !claims.Role.IsValid() {
		return nil, ErrInvalidRole
	}
	if claims.Role != appbilling.RoleAdmin && claims.LandlordID == "" {
		return nil, ErrMissingLandlordID
	}
	if claims.Role == appbilling.RoleTenant && claims.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	return claims, nil
}

// GetAccessTokenExpiration returns the access token expiration duration
func (s *JWTService) GetAccessTokenExpiration() time.Duration {
	return s.expiration
}
