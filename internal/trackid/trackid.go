package trackid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	base     = 62

	// EncodedLen is the length of the canonical text form.
	EncodedLen = 22
	// RawLen is the length of the big-endian binary form.
	RawLen = 16
)

// ErrMalformed reports text or bytes that do not describe a track identifier.
var ErrMalformed = errors.New("malformed track id")

var digitValues = func() [256]int8 {
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		table[alphabet[i]] = int8(i)
	}
	return table
}()

// ID is an opaque 128-bit track identifier. The zero value is a valid id.
type ID struct {
	hi uint64
	lo uint64
}

// New builds an ID from its high and low 64-bit halves.
func New(hi, lo uint64) ID {
	return ID{hi: hi, lo: lo}
}

// FromBytes parses the 16-byte big-endian form.
func FromBytes(raw []byte) (ID, error) {
	if len(raw) != RawLen {
		return ID{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformed, RawLen, len(raw))
	}
	return ID{
		hi: binary.BigEndian.Uint64(raw[:8]),
		lo: binary.BigEndian.Uint64(raw[8:]),
	}, nil
}

// Bytes returns the 16-byte big-endian form.
func (id ID) Bytes() []byte {
	raw := make([]byte, RawLen)
	binary.BigEndian.PutUint64(raw[:8], id.hi)
	binary.BigEndian.PutUint64(raw[8:], id.lo)
	return raw
}

// Encode renders id in its canonical base62 form.
func Encode(id ID) string {
	var buf [EncodedLen]byte
	hi, lo := id.hi, id.lo
	for i := EncodedLen - 1; i >= 0; i-- {
		var rem uint64
		hi, rem = hi/base, hi%base
		lo, rem = bits.Div64(rem, lo, base)
		buf[i] = alphabet[rem]
	}
	return string(buf[:])
}

// Decode parses a base62 numeral of at most EncodedLen digits.
func Decode(text string) (ID, error) {
	if text == "" {
		return ID{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if len(text) > EncodedLen {
		return ID{}, fmt.Errorf("%w: %q is longer than %d digits", ErrMalformed, text, EncodedLen)
	}
	var hi, lo uint64
	for i := 0; i < len(text); i++ {
		digit := digitValues[text[i]]
		if digit < 0 {
			return ID{}, fmt.Errorf("%w: %q has invalid character %q", ErrMalformed, text, text[i])
		}

		overflow, hiShifted := bits.Mul64(hi, base)
		carry, loShifted := bits.Mul64(lo, base)
		hiShifted, c := bits.Add64(hiShifted, carry, 0)
		if overflow != 0 || c != 0 {
			return ID{}, fmt.Errorf("%w: %q exceeds 128 bits", ErrMalformed, text)
		}
		loShifted, c = bits.Add64(loShifted, uint64(digit), 0)
		hiShifted, c = bits.Add64(hiShifted, 0, c)
		if c != 0 {
			return ID{}, fmt.Errorf("%w: %q exceeds 128 bits", ErrMalformed, text)
		}
		hi, lo = hiShifted, loShifted
	}
	return ID{hi: hi, lo: lo}, nil
}

// DecodeAll decodes every value in order and stops at the first failure.
func DecodeAll(texts []string) ([]ID, error) {
	ids := make([]ID, 0, len(texts))
	for _, text := range texts {
		id, err := Decode(text)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodeAll encodes ids preserving order. A nil input yields an empty slice.
func EncodeAll(ids []ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, Encode(id))
	}
	return out
}

func (id ID) String() string {
	return Encode(id)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(Encode(id)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	decoded, err := Decode(string(text))
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}
