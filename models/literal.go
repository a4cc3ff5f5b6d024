package models

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
)

// LiteralType is the type suffix of an Aleo plaintext literal.
type LiteralType string

const (
	LiteralU8    LiteralType = "u8"
	LiteralU16   LiteralType = "u16"
	LiteralU32   LiteralType = "u32"
	LiteralField LiteralType = "field"
)

// Literal is a parsed `<digits><type>` value such as `2u8` or `1234field`.
type Literal struct {
	Type  LiteralType
	Value *big.Int
}

var (
	literalPattern      = regexp.MustCompile(`^([0-9]+)(u8|u16|u32|field)$`)
	fieldLiteralPattern = regexp.MustCompile(`([0-9]+)field`)
)

var literalBounds = map[LiteralType]uint64{
	LiteralU8:  math.MaxUint8,
	LiteralU16: math.MaxUint16,
	LiteralU32: math.MaxUint32,
}

// ParseLiteral parses a whole string as a typed literal. Integer literals out
// of range for their type do not match.
func ParseLiteral(s string) (Literal, bool) {
	m := literalPattern.FindStringSubmatch(s)
	if m == nil {
		return Literal{}, false
	}
	v, ok := new(big.Int).SetString(m[1], 10)
	if !ok {
		return Literal{}, false
	}
	t := LiteralType(m[2])
	if bound, ok := literalBounds[t]; ok && (!v.IsUint64() || v.Uint64() > bound) {
		return Literal{}, false
	}
	return Literal{Type: t, Value: v}, true
}

// FindFieldLiteral returns the first `<digits>field` token embedded anywhere
// in s, such as the arguments of a finalize future.
func FindFieldLiteral(s string) (Literal, bool) {
	m := fieldLiteralPattern.FindStringSubmatch(s)
	if m == nil {
		return Literal{}, false
	}
	v, ok := new(big.Int).SetString(m[1], 10)
	if !ok {
		return Literal{}, false
	}
	return Literal{Type: LiteralField, Value: v}, true
}

func (l Literal) String() string {
	if l.Value == nil {
		return ""
	}
	return l.Value.String() + string(l.Type)
}

// Uint64 returns the literal value for integer types.
func (l Literal) Uint64() uint64 {
	if l.Value == nil || !l.Value.IsUint64() {
		return 0
	}
	return l.Value.Uint64()
}

func U16(n uint16) string {
	return strconv.FormatUint(uint64(n), 10) + string(LiteralU16)
}

func U32(n uint32) string {
	return strconv.FormatUint(uint64(n), 10) + string(LiteralU32)
}

// Field normalises a field argument, appending the `field` suffix when the
// caller passed bare digits.
func Field(s string) (string, error) {
	if l, ok := ParseLiteral(s); ok {
		if l.Type != LiteralField {
			return "", fmt.Errorf("expected a field literal, got %s", l.Type)
		}
		return l.String(), nil
	}
	l, ok := ParseLiteral(s + string(LiteralField))
	if !ok {
		return "", fmt.Errorf("invalid field literal %q", s)
	}
	return l.String(), nil
}
