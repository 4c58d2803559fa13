package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/conversation-service/internal/apperr"
)

// Validator turns a bearer token into a user id.
type Validator interface {
	Validate(token string) (string, error)
}

type JWTValidator struct {
	method string
	secret []byte
	pub    *rsa.PublicKey
}

func NewHS256Validator(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty jwt secret")
	}
	return &JWTValidator{method: "HS256", secret: []byte(secret)}, nil
}

func NewRS256Validator(path string) (*JWTValidator, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("failed to decode public key")
	}
	pubIfc, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := pubIfc.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return &JWTValidator{method: "RS256", pub: pub}, nil
}

// New builds a validator for the configured algorithm.
func New(alg, secret, publicKeyPath string) (*JWTValidator, error) {
	switch strings.ToUpper(alg) {
	case "", "HS256":
		return NewHS256Validator(secret)
	case "RS256":
		return NewRS256Validator(publicKeyPath)
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", alg)
	}
}

func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", fmt.Errorf("missing token: %w", apperr.ErrUnauthorized)
	}
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if j.pub != nil {
			return j.pub, nil
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{j.method}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if claims, ok := tok.Claims.(jwt.MapClaims); ok && tok.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
		if userID, ok := claims["user_id"].(string); ok && userID != "" {
			return userID, nil
		}
	}
	return "", fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
}
