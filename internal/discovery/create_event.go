package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mr-tron/base58"
)

// PumpFun is the pump.fun program ID.
const PumpFun = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"

// Create event layout.
const (
	discriminatorLen = 8
	lengthPrefixLen  = 4
	mintLen          = 32

	// MaxStringLen bounds each length-prefixed string field.
	MaxStringLen = 10_000
)

// Decode errors.
var (
	// ErrMalformedPayload is returned when the buffer does not match the layout.
	ErrMalformedPayload = errors.New("malformed create payload")

	// ErrIncompleteEvent is returned when the layout parses but required fields are empty.
	ErrIncompleteEvent = errors.New("incomplete create event")
)

// CreateFields are the fields carried by a create event payload.
type CreateFields struct {
	Name   string
	Symbol string
	URI    string
	Mint   string // base58
}

// DecodeCreateEvent decodes a create event payload:
//
//	[8]discriminator | u32 len | name | u32 len | symbol | u32 len | uri | [32]mint
//
// Length prefixes are little-endian. Bytes after the mint are ignored.
func DecodeCreateEvent(raw []byte) (CreateFields, error) {
	if len(raw) < discriminatorLen {
		return CreateFields{}, fmt.Errorf("%w: %d bytes, shorter than discriminator", ErrMalformedPayload, len(raw))
	}

	r := reader{buf: raw, off: discriminatorLen}

	name, err := r.string("name")
	if err != nil {
		return CreateFields{}, err
	}
	symbol, err := r.string("symbol")
	if err != nil {
		return CreateFields{}, err
	}
	uri, err := r.string("uri")
	if err != nil {
		return CreateFields{}, err
	}

	mint, err := r.bytes("mint", mintLen)
	if err != nil {
		return CreateFields{}, err
	}

	fields := CreateFields{
		Name:   name,
		Symbol: symbol,
		URI:    uri,
		Mint:   base58.Encode(mint),
	}

	if fields.Name == "" || fields.Symbol == "" {
		return CreateFields{}, fmt.Errorf("%w: empty name or symbol", ErrIncompleteEvent)
	}
	if isZero(mint) {
		return CreateFields{}, fmt.Errorf("%w: zero mint", ErrIncompleteEvent)
	}

	return fields, nil
}

// EncodeCreateEvent builds a payload in the layout DecodeCreateEvent reads.
func EncodeCreateEvent(discriminator [8]byte, name, symbol, uri string, mint []byte) ([]byte, error) {
	if len(mint) != mintLen {
		return nil, fmt.Errorf("mint must be %d bytes, got %d", mintLen, len(mint))
	}

	out := make([]byte, 0, discriminatorLen+3*lengthPrefixLen+len(name)+len(symbol)+len(uri)+mintLen)
	out = append(out, discriminator[:]...)
	for _, s := range []string{name, symbol, uri} {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(s)))
		out = append(out, s...)
	}
	out = append(out, mint...)
	return out, nil
}

// reader is a bounds-checked cursor over a payload.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) bytes(field string, n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, %d remain",
			ErrMalformedPayload, field, n, r.off, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) string(field string) (string, error) {
	prefix, err := r.bytes(field+" length", lengthPrefixLen)
	if err != nil {
		return "", err
	}

	n := binary.LittleEndian.Uint32(prefix)
	if n > MaxStringLen {
		return "", fmt.Errorf("%w: %s length %d exceeds %d", ErrMalformedPayload, field, n, MaxStringLen)
	}

	b, err := r.bytes(field, int(n))
	if err != nil {
		return "", err
	}
	return decodeString(b), nil
}

// decodeString returns b as UTF-8, or as printable ASCII with '?' in place of
// every byte outside 0x20..0x7e when b is not valid UTF-8.
func decodeString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c >= 0x20 && c <= 0x7e {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('?')
		}
	}
	return sb.String()
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
