package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIDIsCanonical(t *testing.T) {
	a, err := DeriveID("job", map[string]any{"client": "0xa", "total": "100", "count": 2})
	require.NoError(t, err)
	b, err := DeriveID("job", map[string]any{"count": 2, "total": "100", "client": "0xa"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DeriveID("job", map[string]any{"client": "0xa", "total": "100", "count": 3})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := DeriveID("pool", map[string]any{"client": "0xa", "total": "100", "count": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, d, "domain must separate ids")
}

func TestContractAddressIsStable(t *testing.T) {
	assert.Equal(t, ContractAddress("escrow"), ContractAddress("escrow"))
	assert.NotEqual(t, ContractAddress("escrow"), ContractAddress("custody"))
}

func TestKeyHelpers(t *testing.T) {
	k := NewKey("escrow", "job", "0x01")
	assert.Equal(t, "escrow/job/0x01", k.String())
	assert.Equal(t, "escrow", k.Namespace())
	assert.Equal(t, Key("config"), NewKey("config"))
	assert.Equal(t, "0x0000000000000000000000000000000000000b0b", AddressPart(bob))
}
