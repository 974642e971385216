package fcgi

import (
	"encoding/binary"
	"fmt"
)

// Name/value pair encoding
// ========================
//
// Each pair is nameLength, valueLength, nameData, valueData. A length is one
// byte when it is <= 127, otherwise four bytes big-endian with bit 31 set and
// the remaining 31 bits holding the length. Pairs repeat until the content
// is exhausted. A pair may be split across several Params records.

const (
	shortLengthMax = 127
	longLengthFlag = 1 << 31
)

// readLength decodes one length field at the start of b.
// It returns the length, the bytes consumed, and ok=false if b is too short.
func readLength(b []byte) (length uint32, n int, ok bool) {
	if len(b) < 1 {
		return 0, 0, false
	}
	if b[0]>>7 == 0 {
		return uint32(b[0]), 1, true
	}
	if len(b) < 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(b[:4]) &^ longLengthFlag, 4, true
}

// ParseParams decodes every complete name/value pair at the start of b and
// calls fn for each, in order. It returns the number of bytes consumed; the
// remaining b[consumed:] is an incomplete pair that needs more input.
func ParseParams(b []byte, fn func(name, value string)) (consumed int) {
	for {
		rest := b[consumed:]

		nameLen, n1, ok := readLength(rest)
		if !ok {
			return consumed
		}
		valueLen, n2, ok := readLength(rest[n1:])
		if !ok {
			return consumed
		}

		start := uint64(n1 + n2)
		end := start + uint64(nameLen) + uint64(valueLen)
		if uint64(len(rest)) < end {
			return consumed
		}

		nameEnd := start + uint64(nameLen)
		fn(string(rest[start:nameEnd]), string(rest[nameEnd:end]))
		consumed += int(end)
	}
}

// DecodeParams decodes a complete name/value block. Duplicate names keep the
// last value. Returns ErrMalformedParams if the block ends mid-pair.
func DecodeParams(b []byte) (map[string]string, error) {
	params := make(map[string]string)
	consumed := ParseParams(b, func(name, value string) {
		params[name] = value
	})
	if consumed != len(b) {
		return params, fmt.Errorf("%w: %d trailing bytes", ErrMalformedParams, len(b)-consumed)
	}
	return params, nil
}

// appendLength appends one length field using the short or long form.
func appendLength(dst []byte, n int) []byte {
	if n <= shortLengthMax {
		return append(dst, byte(n))
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n)|longLengthFlag)
	return append(dst, b[:]...)
}

// AppendParam appends one encoded name/value pair to dst.
func AppendParam(dst []byte, name, value string) []byte {
	dst = appendLength(dst, len(name))
	dst = appendLength(dst, len(value))
	dst = append(dst, name...)
	dst = append(dst, value...)
	return dst
}

// Param is an ordered name/value pair, used where the wire order matters
// (encoding GetValuesResult, building test streams).
type Param struct {
	Name  string
	Value string
}

// EncodeParams encodes pairs in order.
func EncodeParams(pairs []Param) []byte {
	var out []byte
	for _, p := range pairs {
		out = AppendParam(out, p.Name, p.Value)
	}
	return out
}
