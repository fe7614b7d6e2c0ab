// Package amount implements signed 128-bit fixed-point quantities expressed
// in an asset's smallest unit. Every operation is range checked so results
// never silently wrap.
package amount

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	gethmath "github.com/ethereum/go-ethereum/common/math"

	xerrors "FlowPay-Chain/internal/errors"
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Amount is an immutable signed 128-bit integer. The zero value is 0.
type Amount struct {
	v *big.Int
}

// Zero is the additive identity.
var Zero = Amount{}

// New returns the amount for v.
func New(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// FromBig copies b and checks the 128-bit range.
func FromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Zero, nil
	}
	return checked(new(big.Int).Set(b))
}

// Parse accepts a decimal or 0x-prefixed hexadecimal integer with an optional
// leading minus sign.
func Parse(s string) (Amount, error) {
	raw := strings.TrimSpace(s)
	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")
	value, ok := gethmath.ParseBig256(raw)
	if !ok || raw == "" {
		return Zero, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid amount %q", s)
	}
	if negative {
		value.Neg(value)
	}
	return checked(value)
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func checked(v *big.Int) (Amount, error) {
	if v.Cmp(maxInt128) > 0 || v.Cmp(minInt128) < 0 {
		return Zero, xerrors.Newf(xerrors.CodeArithmetic, "value %s overflows 128 bits", v.String())
	}
	return Amount{v: v}, nil
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int { return a.big().Sign() }

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool { return a.Sign() == 0 }

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a.Sign() > 0 }

// Cmp compares a and b.
func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

// Equal reports whether a == b.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// Neg returns -a.
func (a Amount) Neg() (Amount, error) {
	return checked(new(big.Int).Neg(a.big()))
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	return checked(new(big.Int).Add(a.big(), b.big()))
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) (Amount, error) {
	return checked(new(big.Int).Sub(a.big(), b.big()))
}

// Mul returns a * b.
func (a Amount) Mul(b Amount) (Amount, error) {
	return checked(new(big.Int).Mul(a.big(), b.big()))
}

// MulInt64 returns a * n.
func (a Amount) MulInt64(n int64) (Amount, error) {
	return a.Mul(New(n))
}

// Quo returns a / b truncated toward zero.
func (a Amount) Quo(b Amount) (Amount, error) {
	if b.IsZero() {
		return Zero, xerrors.New(xerrors.CodeArithmetic, "division by zero")
	}
	return checked(new(big.Int).Quo(a.big(), b.big()))
}

// QuoInt64 returns a / n truncated toward zero.
func (a Amount) QuoInt64(n int64) (Amount, error) {
	return a.Quo(New(n))
}

// Rem returns the remainder of a / b with the sign of a.
func (a Amount) Rem(b Amount) (Amount, error) {
	if b.IsZero() {
		return Zero, xerrors.New(xerrors.CodeArithmetic, "division by zero")
	}
	return checked(new(big.Int).Rem(a.big(), b.big()))
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Sum adds all values, failing on the first overflow.
func Sum(values ...Amount) (Amount, error) {
	total := Zero
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Zero, err
		}
		total = next
	}
	return total, nil
}

// String renders the decimal representation.
func (a Amount) String() string {
	return a.big().String()
}

// MarshalJSON encodes the amount as a decimal string so JavaScript clients
// keep full precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var text string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	} else {
		text = string(data)
	}
	parsed, err := Parse(text)
	if err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	*a = parsed
	return nil
}
