package amount

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "FlowPay-Chain/internal/errors"
)

func TestParseFormats(t *testing.T) {
	cases := map[string]string{
		"10000000000":  "10000000000",
		"-42":          "-42",
		"0x10":         "16",
		" 7 ":          "7",
		"170141183460469231731687303715884105727": "170141183460469231731687303715884105727",
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got.String(), input)
	}

	_, err := Parse("12abc")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
	_, err = Parse("")
	assert.Error(t, err)
}

func TestOverflowIsArithmeticError(t *testing.T) {
	_, err := Parse("170141183460469231731687303715884105728")
	require.True(t, xerrors.HasCode(err, xerrors.CodeArithmetic))

	max := MustParse("170141183460469231731687303715884105727")
	_, err = max.Add(New(1))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeArithmetic))

	_, err = max.MulInt64(2)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeArithmetic))

	_, err = New(5).Quo(Zero)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeArithmetic))
}

func TestQuoTruncatesTowardZero(t *testing.T) {
	q, err := New(-7).QuoInt64(2)
	require.NoError(t, err)
	assert.Equal(t, "-3", q.String())

	r, err := New(10_000_0000001).Rem(New(3))
	require.NoError(t, err)
	assert.Equal(t, "2", r.String())
}

func TestJSONRoundTripKeepsPrecision(t *testing.T) {
	type wrapper struct {
		Value Amount `json:"value"`
	}
	in := wrapper{Value: MustParse("123456789012345678901234567890")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"123456789012345678901234567890"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"value":42}`), &out))
	assert.True(t, out.Value.Equal(New(42)))
}

func TestZeroValueBehaves(t *testing.T) {
	var a Amount
	assert.True(t, a.IsZero())
	assert.Equal(t, "0", a.String())
	sum, err := a.Add(New(3))
	require.NoError(t, err)
	assert.True(t, sum.Equal(New(3)))
	assert.Equal(t, 0, a.Big().Cmp(big.NewInt(0)))
}

func TestArithmeticMatchesBigInt(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Add/Sub/Mul agree with math/big inside the int64 range", prop.ForAll(
		func(x, y int32) bool {
			a, b := New(int64(x)), New(int64(y))
			sum, err1 := a.Add(b)
			diff, err2 := a.Sub(b)
			prod, err3 := a.Mul(b)
			if err1 != nil || err2 != nil || err3 != nil {
				return false
			}
			return sum.Big().Int64() == int64(x)+int64(y) &&
				diff.Big().Int64() == int64(x)-int64(y) &&
				prod.Big().Int64() == int64(x)*int64(y)
		},
		gen.Int32(),
		gen.Int32(),
	))

	properties.TestingRun(t)
}
