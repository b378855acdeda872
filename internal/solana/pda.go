package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program and sysvar addresses.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgramID   = "ComputeBudget111111111111111111111111111111"
	RentSysvarID             = "SysvarRent111111111111111111111111111111111"
)

// ErrNoViableBump is returned when no bump seed yields an off-curve address.
var ErrNoViableBump = errors.New("no viable bump seed")

const maxSeedLen = 32

// DecodeAddress decodes a base58 address and checks its length.
func DecodeAddress(addr string) ([]byte, error) {
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", addr, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("address %q: expected 32 bytes, got %d", addr, len(b))
	}
	return b, nil
}

// FindProgramAddress derives a Program Derived Address and its bump seed.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodeAddress(programID)
	if err != nil {
		return "", 0, err
	}
	for _, seed := range seeds {
		if len(seed) > maxSeedLen {
			return "", 0, fmt.Errorf("seed longer than %d bytes", maxSeedLen)
		}
	}

	// sha256(seeds || bump || programID || "ProgramDerivedAddress"),
	// first bump from 255 down whose hash is off the ed25519 curve.
	for bump := 255; bump >= 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, byte(bump))
		data = append(data, program...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), uint8(bump), nil
		}
	}

	return "", 0, ErrNoViableBump
}

// AssociatedTokenAddress returns the associated token account of owner for mint.
func AssociatedTokenAddress(owner, mint string) (string, error) {
	ownerBytes, err := DecodeAddress(owner)
	if err != nil {
		return "", err
	}
	mintBytes, err := DecodeAddress(mint)
	if err != nil {
		return "", err
	}
	tokenProgram, _ := DecodeAddress(TokenProgramID)

	addr, _, err := FindProgramAddress([][]byte{ownerBytes, tokenProgram, mintBytes}, AssociatedTokenProgramID)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
