package executor

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"pumpsniper/internal/discovery"
	"pumpsniper/internal/solana"
)

// Pump.fun program accounts.
const (
	DefaultProgramID = discovery.PumpFun
	GlobalAccount    = "4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf"
	FeeRecipient     = "CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM"
	EventAuthority   = "Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1"
	bondingCurveTag  = "bonding-curve"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

const bpsDenominator = 10_000

var (
	buyDiscriminator  = mustHex("66063d1201daebea")
	sellDiscriminator = mustHex("33e685a4017f83ad")
)

// ErrMalformedCurve is returned when bonding curve account data is too short.
var ErrMalformedCurve = errors.New("malformed bonding curve account")

// BondingCurve is the decoded state of a token's bonding curve account.
type BondingCurve struct {
	Address                string // bonding curve PDA
	AssociatedBondingCurve string // curve's token account
	VirtualTokenReserves   uint64
	VirtualSOLReserves     uint64
	Complete               bool
}

// BondingCurveAddress derives the bonding curve PDA for mint.
func BondingCurveAddress(mint, programID string) (string, error) {
	mintBytes, err := solana.DecodeAddress(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(bondingCurveTag), mintBytes}, programID)
	if err != nil {
		return "", fmt.Errorf("derive bonding curve: %w", err)
	}
	return addr, nil
}

// DecodeBondingCurve parses raw curve account data.
// Layout: 8-byte discriminator, virtual token reserves u64, virtual SOL reserves u64, ...,
// complete flag in the last byte.
func DecodeBondingCurve(data []byte) (BondingCurve, error) {
	if len(data) < 25 {
		return BondingCurve{}, fmt.Errorf("%w: %d bytes", ErrMalformedCurve, len(data))
	}
	return BondingCurve{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[8:16]),
		VirtualSOLReserves:   binary.LittleEndian.Uint64(data[16:24]),
		Complete:             data[len(data)-1] != 0,
	}, nil
}

func decodeAccountData(info *solana.AccountInfo) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return data, nil
}

// BuyQuote returns the token amount for lamports and the max SOL cost
// after slippage.
func BuyQuote(curve BondingCurve, lamports uint64, slippageBps int) (tokens, maxCost uint64) {
	// tokens = lamports * vToken / (vSOL + lamports)
	num := new(big.Int).Mul(u64(lamports), u64(curve.VirtualTokenReserves))
	den := new(big.Int).Add(u64(curve.VirtualSOLReserves), u64(lamports))
	if den.Sign() > 0 {
		tokens = clamp(new(big.Int).Quo(num, den))
	}
	maxCost = applyBps(lamports, bpsDenominator+slippageBps)
	return tokens, maxCost
}

// SellQuote returns the minimum SOL output for selling amount tokens.
func SellQuote(curve BondingCurve, amount uint64, slippageBps int) uint64 {
	if curve.VirtualTokenReserves == 0 {
		return 0
	}
	// expected = amount * vSOL / vToken
	expected := new(big.Int).Mul(u64(amount), u64(curve.VirtualSOLReserves))
	expected.Quo(expected, u64(curve.VirtualTokenReserves))
	keep := bpsDenominator - slippageBps
	if keep < 0 {
		keep = 0
	}
	return applyBps(clamp(expected), keep)
}

// applyBps returns v * bps / 10_000.
func applyBps(v uint64, bps int) uint64 {
	r := new(big.Int).Mul(u64(v), big.NewInt(int64(bps)))
	return clamp(r.Quo(r, big.NewInt(bpsDenominator)))
}

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func clamp(v *big.Int) uint64 {
	if !v.IsUint64() {
		if v.Sign() < 0 {
			return 0
		}
		return ^uint64(0)
	}
	return v.Uint64()
}

// swapData encodes buy/sell instruction data: discriminator, u64 amount, u64 limit.
func swapData(disc []byte, amount, limit uint64) []byte {
	data := make([]byte, 0, 24)
	data = append(data, disc...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = binary.LittleEndian.AppendUint64(data, limit)
	return data
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
