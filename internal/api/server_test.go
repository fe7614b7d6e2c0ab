package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlowPay-Chain/internal/auth"
	"FlowPay-Chain/internal/config"
	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/escrow"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/observability/metrics"
	"FlowPay-Chain/internal/platform"
	"FlowPay-Chain/internal/router"
)

const (
	adminHex    = "0x000000000000000000000000000000000000ad01"
	usdcHex     = "0x000000000000000000000000000000000000a5dc"
	xlmHex      = "0x0000000000000000000000000000000000000001"
	providerHex = "0x0000000000000000000000000000000000000f00"
)

type fixture struct {
	handler    http.Handler
	clientKey  *ecdsa.PrivateKey
	client     common.Address
	freelancer common.Address
}

func newFixture(t *testing.T, mode auth.Mode, opts ...Option) *fixture {
	t.Helper()
	clientKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := crypto.PubkeyToAddress(clientKey.PublicKey)
	freelancer := common.HexToAddress("0x0000000000000000000000000000000000000f1e")

	balances := map[string]string{
		client.Hex(): "1000000000000",
		providerHex:  "100000000000000",
	}
	g, err := platform.GenesisFromConfig(config.GenesisConfig{
		Admin:           adminHex,
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

	p := platform.New(ledger.New(ledger.NewMemoryBackend(), ledger.WithClock(ledger.NewManualClock(1_000))))
	_, err = p.Bootstrap(context.Background(), g)
	require.NoError(t, err)

	svc, err := auth.NewService(auth.Config{Mode: mode}, auth.NewMemoryReplayStore())
	require.NoError(t, err)

	opts = append([]Option{WithAuth(svc)}, opts...)
	server := NewServer(":0", p, opts...)
	return &fixture{handler: server.Handler(), clientKey: clientKey, client: client, freelancer: freelancer}
}

func (f *fixture) signed(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	ts := time.Now().Unix()
	sig, err := auth.Sign(f.clientKey, method, path, ts, raw)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set(auth.HeaderSigner, f.client.Hex())
	req.Header.Set(auth.HeaderSignature, sig)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) as(signer common.Address, method, path string, body any) *httptest.ResponseRecorder {
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		raw, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if signer != (common.Address{}) {
		req.Header.Set(auth.HeaderSigner, signer.Hex())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, auth.ModeSignature)
	rec := f.as(common.Address{}, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestSignedJobLifecycle(t *testing.T) {
	f := newFixture(t, auth.ModeSignature)

	rec := f.signed(t, http.MethodPost, "/api/v1/jobs", map[string]any{
		"freelancer":      f.freelancer,
		"total_amount":    "100000000000",
		"asset":           usdcHex,
		"milestone_count": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		JobID   common.Hash    `json:"job_id"`
		Receipt ledger.Receipt `json:"receipt"`
	}](t, rec)
	assert.NotEmpty(t, created.Receipt.TxID)

	jobPath := "/api/v1/jobs/" + created.JobID.Hex()
	rec = f.as(common.Address{}, http.MethodGet, jobPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[escrow.Job](t, rec)
	assert.Equal(t, escrow.JobActive, job.Status)
	assert.Len(t, job.Milestones, 2)
	assert.True(t, job.Custodied)

	rec = f.signed(t, http.MethodPost, jobPath+"/milestones/1/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.signed(t, http.MethodPost, jobPath+"/milestones/1/release", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[amountResponse](t, rec)
	assert.Equal(t, "50000000000", paid.Amount.String())

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/balances/"+usdcHex+"/"+f.freelancer.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"50000000000"`)

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/clients/"+f.client.Hex()+"/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Jobs []escrow.Job `json:"jobs"`
	}](t, rec)
	require.Len(t, listed.Jobs, 1)
	assert.Equal(t, created.JobID, listed.Jobs[0].ID)
}

func TestWritesRequireSigner(t *testing.T) {
	f := newFixture(t, auth.ModeSignature)

	rec := f.as(common.Address{}, http.MethodPost, "/api/v1/transfers", map[string]any{
		"asset": usdcHex, "to": providerHex, "amount": "1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// 签名头存在但签名缺失。
	rec = f.as(f.client, http.MethodPost, "/api/v1/transfers", map[string]any{
		"asset": usdcHex, "to": providerHex, "amount": "1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	f := newFixture(t, auth.ModeDisabled)

	rec := f.as(f.client, http.MethodPost, "/api/v1/jobs", map[string]any{
		"freelancer": f.freelancer, "total_amount": "100", "asset": usdcHex, "milestone_count": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")

	rec = f.as(f.client, http.MethodPost, "/api/v1/jobs", map[string]any{
		"freelancer": f.freelancer, "total_amount": "1000", "asset": usdcHex, "milestone_count": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[struct {
		JobID common.Hash `json:"job_id"`
	}](t, rec)
	jobPath := "/api/v1/jobs/" + created.JobID.Hex()

	// 只有自由职业者可以提交证明。
	rec = f.as(f.client, http.MethodPost, jobPath+"/milestones/1/proof", map[string]any{"proof": "ipfs://x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.as(f.client, http.MethodPost, jobPath+"/milestones/1/release", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.as(f.client, http.MethodPost, jobPath+"/milestones/9/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/jobs/0x1234", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/jobs/"+common.Hash{1}.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.as(f.client, http.MethodPost, "/api/v1/jobs", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteAndSwap(t *testing.T) {
	f := newFixture(t, auth.ModeDisabled)

	rec := f.as(common.Address{}, http.MethodGet, "/api/v1/quote?from="+usdcHex+"&to="+xlmHex+"&amount=1000000", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[platform.Quote](t, rec)
	require.True(t, quote.Expected.IsPositive())

	rec = f.as(f.client, http.MethodPost, "/api/v1/swap", map[string]any{
		"from": usdcHex, "to": xlmHex, "amount": "1000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[amountResponse](t, rec)
	assert.True(t, out.Amount.Equal(quote.Expected))

	rec = f.as(f.client, http.MethodPost, "/api/v1/swap", map[string]any{
		"from": usdcHex, "to": xlmHex, "amount": "999999999999999",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pools"`)
}

func TestCustodyEndpoints(t *testing.T) {
	f := newFixture(t, auth.ModeDisabled)

	rec := f.as(f.client, http.MethodPost, "/api/v1/custody/deposit", map[string]any{
		"amount": "1000000", "asset": usdcHex,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/custody/positions/"+f.client.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pos := decode[platform.PositionView](t, rec)
	assert.Equal(t, "1000000", pos.Principal.String())

	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/custody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_deposits":"1000000"`)

	rec = f.as(f.client, http.MethodPost, "/api/v1/custody/withdraw-principal", map[string]any{"amount": "2000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMetricsAndRateLimit(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, auth.ModeDisabled, WithMetrics(m), WithRateLimiter(NewRateLimiter(1, 1)))

	rec := f.as(common.Address{}, http.MethodGet, "/api/v1/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.as(common.Address{}, http.MethodGet, "/api/v1/pools", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// 健康检查不受限流影响。
	rec = f.as(common.Address{}, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.as(common.Address{}, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		xerrors.CodeInvalidArgument:      http.StatusBadRequest,
		xerrors.CodeUnauthorized:         http.StatusForbidden,
		xerrors.CodeNotFound:             http.StatusNotFound,
		xerrors.CodeAlreadyInitialized:   http.StatusConflict,
		xerrors.CodeSlippageExceeded:     http.StatusUnprocessableEntity,
		router.CodeInsufficientLiquidity: http.StatusUnprocessableEntity,
		xerrors.CodeStorageFailure:       http.StatusServiceUnavailable,
		xerrors.CodeTimeout:              http.StatusGatewayTimeout,
		xerrors.CodeUnknown:              http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFor(code), string(code))
	}
}
