package flowpay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowPay-Chain/internal/api"
	"FlowPay-Chain/internal/auth"
	"FlowPay-Chain/internal/config"
	"FlowPay-Chain/internal/escrow"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/platform"
	"FlowPay-Chain/pkg/amount"
)

const (
	usdcHex     = "0x000000000000000000000000000000000000a5dc"
	xlmHex      = "0x0000000000000000000000000000000000000001"
	providerHex = "0x0000000000000000000000000000000000000f00"
)

var freelancer = common.HexToAddress("0x0000000000000000000000000000000000000f1e")

func newServer(t *testing.T, client common.Address) *httptest.Server {
	t.Helper()
	balances := map[string]string{client.Hex(): "1000000000000", providerHex: "100000000000000"}
	g, err := platform.GenesisFromConfig(config.GenesisConfig{
		Admin:           "0x000000000000000000000000000000000000ad01",
		SettlementAsset: usdcHex,
		ReferenceAsset:  xlmHex,
		YieldReserve:    "100000000000",
		Assets: []config.GenesisAsset{
			{Address: usdcHex, Symbol: "USDC", Decimals: 7, Balances: balances},
			{Address: xlmHex, Symbol: "XLM", Decimals: 7, Balances: balances},
		},
		Pools: []config.GenesisPool{
			{Provider: providerHex, AssetA: usdcHex, AmountA: "10000000000000", AssetB: xlmHex, AmountB: "10000000000000"},
		},
	})
	require.NoError(t, err)

	p := platform.New(ledger.New(ledger.NewMemoryBackend()))
	_, err = p.Bootstrap(context.Background(), g)
	require.NoError(t, err)

	svc, err := auth.NewService(auth.Config{Mode: auth.ModeSignature}, auth.NewMemoryReplayStore())
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(":0", p, api.WithAuth(svc)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestJobFlowOverHTTP(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	srv := newServer(t, crypto.PubkeyToAddress(key.PublicKey))

	c, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	c.WithKey(key)
	ctx := context.Background()

	created, err := c.CreateJob(ctx, freelancer, amount.New(1_000_000), common.HexToAddress(usdcHex), 1)
	require.NoError(t, err)

	_, err = c.ApproveMilestone(ctx, created.JobID, 1)
	require.NoError(t, err)

	xlm := common.HexToAddress(xlmHex)
	paid, err := c.ReleasePayment(ctx, created.JobID, 1, &xlm)
	require.NoError(t, err)
	assert.True(t, paid.Amount.IsPositive())

	job, err := c.GetJob(ctx, created.JobID)
	require.NoError(t, err)
	assert.Equal(t, escrow.JobCompleted, job.Status)

	balance, err := c.Balance(ctx, xlm, freelancer)
	require.NoError(t, err)
	assert.True(t, balance.Equal(paid.Amount))
}

func TestQuoteThenSwap(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	srv := newServer(t, crypto.PubkeyToAddress(key.PublicKey))

	c, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)
	ctx := context.Background()
	usdc, xlm := common.HexToAddress(usdcHex), common.HexToAddress(xlmHex)

	q, err := c.Quote(ctx, usdc, xlm, amount.New(5_000_000))
	require.NoError(t, err)

	_, err = c.Swap(ctx, usdc, xlm, amount.New(5_000_000), 50)
	assert.ErrorIs(t, err, ErrNoKey)

	out, err := c.WithKey(key).Swap(ctx, usdc, xlm, amount.New(5_000_000), 50)
	require.NoError(t, err)
	assert.True(t, out.Amount.Equal(q.Expected))
}

func TestAPIErrorDecoding(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	srv := newServer(t, crypto.PubkeyToAddress(key.PublicKey))

	c, err := NewClient(srv.URL, srv.Client())
	require.NoError(t, err)

	_, err = c.GetJob(context.Background(), common.Hash{7})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}
