package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LoadSigningKey parses a hex P-256 private scalar. An empty string yields a
// fresh random key, which invalidates every bearer token on restart.
func LoadSigningKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	if !strings.HasPrefix(hexKey, "0x") {
		hexKey = "0x" + hexKey
	}
	raw, err := hexutil.Decode(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("signing key out of range")
	}

	key := &ecdsa.PrivateKey{D: d}
	key.PublicKey.Curve = curve
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, 32)))
	return key, nil
}
