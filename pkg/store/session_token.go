package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenIssuer = "multillm"
	minTokenSecretLen  = 32
)

var defaultTokenLeeway = 30 * time.Second

// ErrInvalidSessionToken indicates a malformed, forged or expired token.
var ErrInvalidSessionToken = errors.New("invalid session token")

// TokenOptions configures session token signing and validation.
type TokenOptions struct {
	Issuer string
	Leeway time.Duration
}

// TokenSigner issues HS256 session tokens. A token is only a bearer
// handle: the sessions table decides whether it is still live.
type TokenSigner struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewTokenSigner builds a signer from a shared secret.
func NewTokenSigner(secret string, opts TokenOptions) (*TokenSigner, error) {
	if len(secret) < minTokenSecretLen {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minTokenSecretLen)
	}
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	if opts.Issuer == "" {
		opts.Issuer = defaultTokenIssuer
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultTokenLeeway
	}
	return &TokenSigner{
		secret: []byte(secret),
		issuer: opts.Issuer,
		leeway: opts.Leeway,
	}, nil
}

// Issue signs a token for userID that expires at expiresAt.
func (s *TokenSigner) Issue(userID int64, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    s.issuer,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature, issuer and expiry and returns the user ID.
func (s *TokenSigner) Verify(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return 0, ErrInvalidSessionToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidSessionToken
	}
	return userID, nil
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
