// Package eth recovers Ethereum addresses from personal-message signatures.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an R || S || V signature
const SignatureLength = crypto.SignatureLength

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrInvalidAddress     = errors.New("invalid ethereum address")
)

// ParseAddress validates a hex address and returns it checksummed
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// DecodeSignature decodes a 0x-prefixed 65 byte signature and normalises V to 0/1
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", ErrMalformedSignature)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes: %w", SignatureLength, ErrMalformedSignature)
	}
	// Wallets emit V as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return nil, fmt.Errorf("invalid recovery id: %w", ErrMalformedSignature)
	}
	return sig, nil
}

// RecoverAddress returns the address that signed message under EIP-191
func RecoverAddress(message string, sig []byte) (common.Address, error) {
	hash := accounts.TextHash([]byte(message))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonalSignature reports whether signature over message was made by address
func VerifyPersonalSignature(message, signature string, address common.Address) (bool, error) {
	sig, err := DecodeSignature(signature)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return false, err
	}
	return recovered == address, nil
}

// SignPersonal signs message the way wallets do for personal_sign, V as 27/28
func SignPersonal(message string, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
