package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims carry the session identifier as the JWT ID and the address as subject
type AccessClaims struct {
	jwt.RegisteredClaims
}
