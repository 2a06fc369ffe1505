// Package cborval models CBOR data items as an immutable value tree. It is
// the claim-tree representation shared by the credential formats: mdoc
// namespaces decode into it, requested-field extraction walks it, and the
// display layer projects it to JSON.
package cborval

import (
	"bytes"
	"math/big"
)

// Kind mirrors the CBOR major types the wallet cares about. The numeric
// values track the major-type ordering used by Compare.
type Kind int

const (
	KindInteger Kind = iota
	KindBytes
	KindText
	KindArray
	KindMap
	KindTag
	KindBool
	KindNull
	KindFloat
)

// Value is one node of the claim tree.
type Value interface {
	Kind() Kind
}

type Null struct{}

type Bool bool

// Integer holds the full 128-bit CBOR integer range as a sign plus 16-byte
// big-endian magnitude.
type Integer struct {
	Negative  bool
	Magnitude [16]byte
}

type Float float64

type Bytes []byte

type Text string

type Array []Value

// Map preserves insertion order; CBOR-canonical ordering is applied on
// encode, not on the tree itself.
type Map []Entry

type Entry struct {
	Key   Text
	Value Value
}

// Tag wraps a value with a CBOR tag number.
type Tag struct {
	Number uint64
	Value  Value
}

func (Null) Kind() Kind    { return KindNull }
func (Bool) Kind() Kind    { return KindBool }
func (Integer) Kind() Kind { return KindInteger }
func (Float) Kind() Kind   { return KindFloat }
func (Bytes) Kind() Kind   { return KindBytes }
func (Text) Kind() Kind    { return KindText }
func (Array) Kind() Kind   { return KindArray }
func (Map) Kind() Kind     { return KindMap }
func (Tag) Kind() Kind     { return KindTag }

// NewInteger builds an Integer from an int64.
func NewInteger(v int64) Integer {
	return NewIntegerFromBig(big.NewInt(v))
}

// NewIntegerFromBig builds an Integer from an arbitrary-precision value.
// Magnitudes beyond 128 bits are truncated to the low 16 bytes.
func NewIntegerFromBig(v *big.Int) Integer {
	out := Integer{Negative: v.Sign() < 0}
	mag := new(big.Int).Abs(v)
	b := mag.Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	copy(out.Magnitude[16-len(b):], b)
	return out
}

// Big returns the integer as a big.Int.
func (i Integer) Big() *big.Int {
	v := new(big.Int).SetBytes(i.Magnitude[:])
	if i.Negative {
		v.Neg(v)
	}
	return v
}

// Int64 returns the value and whether it fits in an int64.
func (i Integer) Int64() (int64, bool) {
	b := i.Big()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

// Get looks a key up in a map.
func (m Map) Get(key Text) (Value, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Untag strips any chain of tags and returns the innermost value.
func Untag(v Value) Value {
	for {
		t, ok := v.(Tag)
		if !ok {
			return v
		}
		v = t.Value
	}
}

// Compare orders two values by (major type, canonical encoded bytes), a
// total order over claim trees.
func Compare(a, b Value) int {
	if c := int(a.Kind()) - int(b.Kind()); c != 0 {
		if c < 0 {
			return -1
		}
		return 1
	}
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return 0
	}
	return bytes.Compare(ea, eb)
}

// Equal is structural equality modulo map key ordering.
func Equal(a, b Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Integer:
		bv := b.(Integer)
		return av.Negative == bv.Negative && av.Magnitude == bv.Magnitude
	case Float:
		return av == b.(Float)
	case Bytes:
		return bytes.Equal(av, []byte(b.(Bytes)))
	case Text:
		return av == b.(Text)
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for _, e := range av {
			other, ok := bv.Get(e.Key)
			if !ok || !Equal(e.Value, other) {
				return false
			}
		}
		return true
	case Tag:
		bv := b.(Tag)
		return av.Number == bv.Number && Equal(av.Value, bv.Value)
	}
	return false
}
