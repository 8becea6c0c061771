package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// TokenService signs and checks HS256 tokens for the API.
type TokenService struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type tokenClaims struct {
	Type  string `json:"typ"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssuePair signs an access and a refresh token for an activated profile.
func (t TokenService) IssuePair(userID, email, role string) (TokenPair, error) {
	now := time.Now().UTC()
	accessExp := now.Add(t.AccessTTL)
	access, err := t.sign(tokenClaims{Type: TokenAccess, Email: email, Role: role}, userID, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.sign(tokenClaims{Type: TokenRefresh}, userID, now, now.Add(t.RefreshTTL))
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp.Unix()}, nil
}

func (t TokenService) sign(claims tokenClaims, subject string, issuedAt, expiresAt time.Time) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    t.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

// SubjectOf validates tokenStr and returns its subject when the token type matches.
func (t TokenService) SubjectOf(tokenStr, typ string) (string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.Secret, nil
	},
		jwt.WithIssuer(t.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid || claims.Type != typ || claims.Subject == "" {
		return "", ErrUnauthorized("Authentication failed")
	}
	return claims.Subject, nil
}

func (t TokenService) HashPassword(raw string) (string, error) {
	return hashPassword(raw)
}

func (t TokenService) VerifyPassword(raw, hashed string) bool {
	return verifyPassword(raw, hashed)
}
