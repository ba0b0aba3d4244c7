package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/zelid/core"
	"github.com/layer-3/zelid/ports"
)

const AudienceAccess = "session:access"

// Issuer is written into every token
const Issuer = "zelid"

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs.
// Tokens carry no expiry: the session store decides whether a session is live.
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	now     func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) *JWTTokenizer {
	return &JWTTokenizer{signKey: signKey, now: time.Now}
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// Encode converts a session identifier to a signed bearer token
func (j *JWTTokenizer) Encode(sessionToken, address string) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  address,
			ID:       sessionToken,
			IssuedAt: jwt.NewNumericDate(j.now()),
			Audience: jwt.ClaimStrings{AudienceAccess},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// Decode parses a bearer token and returns the session identifier it carries
func (j *JWTTokenizer) Decode(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceAccess), jwt.WithIssuer(Issuer))
	if err != nil {
		return "", errors.Join(core.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return "", core.ErrUnauthenticated
	}

	return claims.ID, nil
}
