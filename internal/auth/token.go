package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier checks short-lived RS256 bearer tokens issued by the external
// auth collaborator and extracts the principal id they bind.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewVerifier creates a verifier from a PEM-encoded RSA public key. Issuer
// and audience checks are enforced only when configured non-empty.
func NewVerifier(publicKeyPEM []byte, issuer, audience string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse verification key: %w", err)
	}

	return &Verifier{
		publicKey: key,
		issuer:    issuer,
		audience:  audience,
	}, nil
}

// MustNewVerifier creates a verifier from JWT_PUBLIC_KEY (inline PEM) or the
// configured key file.
func MustNewVerifier() *Verifier {
	pem := []byte(os.Getenv("JWT_PUBLIC_KEY"))
	if len(pem) == 0 {
		path := viper.GetString("jwt.public_key_path")
		data, err := os.ReadFile(path)
		if err != nil {
			panic("failed to read JWT public key: " + err.Error())
		}
		pem = data
	}

	verifier, err := NewVerifier(pem, viper.GetString("jwt.issuer"), viper.GetString("jwt.audience"))
	if err != nil {
		panic(err)
	}

	return verifier
}

// Verify validates signature, expiry and, when configured, issuer and
// audience. It returns the token's subject as the principal id.
func (v *Verifier) Verify(token string) (string, error) {
	token = strings.TrimPrefix(token, "Bearer ")

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return subject, nil
}
