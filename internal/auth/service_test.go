package auth

import (
	"bytes"
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func signedRequest(t *testing.T, method, path string, body []byte, ts time.Time) (*http.Request, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := Sign(key, method, path, ts.Unix(), body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	req.Header.Set(HeaderSigner, addr)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	return req, addr
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeSignature}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	body := []byte(`{"amount":"100"}`)
	req, addr := signedRequest(t, http.MethodPost, "/v1/jobs", body, time.Now())

	subject, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject.Address.Hex() != addr || !subject.Verified {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	svc, _ := NewService(Config{}, nil)
	body := []byte(`{"amount":"100"}`)
	req, _ := signedRequest(t, http.MethodPost, "/v1/jobs", body, time.Now())

	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, []byte(`{"amount":"999"}`)); err != ErrSignerMismatch {
		t.Fatalf("expected signer mismatch, got %v", err)
	}
	if _, err := svc.Verify(context.Background(), req.Method, "/v1/other", req.Header.Get, body); err != ErrSignerMismatch {
		t.Fatalf("expected signer mismatch for path, got %v", err)
	}

	empty := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	if _, err := svc.Verify(context.Background(), empty.Method, empty.URL.Path, empty.Header.Get, nil); err != ErrMissingSignature {
		t.Fatalf("expected missing signature, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	svc, _ := NewService(Config{MaxSkew: time.Minute}, nil)
	req, _ := signedRequest(t, http.MethodPost, "/v1/jobs", nil, time.Now().Add(-2*time.Minute))
	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil); err != ErrExpired {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	svc, _ := NewService(Config{}, NewMemoryReplayStore())
	req, _ := signedRequest(t, http.MethodPost, "/v1/jobs", nil, time.Now())
	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil); err != ErrReplayed {
		t.Fatalf("expected replay, got %v", err)
	}
}

func TestVerifyRejectsReplayWithAlternateRecoveryID(t *testing.T) {
	svc, _ := NewService(Config{}, NewMemoryReplayStore())
	req, _ := signedRequest(t, http.MethodPost, "/v1/jobs", nil, time.Now())
	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil); err != nil {
		t.Fatalf("first use: %v", err)
	}

	sig := hexutil.MustDecode(req.Header.Get(HeaderSignature))
	sig[crypto.RecoveryIDOffset] -= 27
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))
	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil); err != ErrReplayed {
		t.Fatalf("expected replay for v-27 encoding, got %v", err)
	}
}

func TestVerifyRejectsHighS(t *testing.T) {
	svc, _ := NewService(Config{}, NewMemoryReplayStore())
	req, _ := signedRequest(t, http.MethodPost, "/v1/jobs", nil, time.Now())

	// (r, N-s, v^1) recovers the same key; only the low-s form is accepted.
	sig := hexutil.MustDecode(req.Header.Get(HeaderSignature))
	n := crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	copy(sig[32:64], pad32(new(big.Int).Sub(n, s)))
	sig[crypto.RecoveryIDOffset] ^= 1
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))

	if _, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil); err != ErrInvalidSignature {
		t.Fatalf("expected invalid signature for high s, got %v", err)
	}
}

func pad32(x *big.Int) []byte {
	out := make([]byte, 32)
	return x.FillBytes(out)
}

func TestDisabledModeTrustsHeader(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeDisabled}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	req.Header.Set(HeaderSigner, "0x00000000000000000000000000000000000a11ce")
	subject, err := svc.Verify(context.Background(), req.Method, req.URL.Path, req.Header.Get, nil)
	if err != nil || subject == nil || subject.Verified {
		t.Fatalf("unexpected result: %+v %v", subject, err)
	}
}

func TestMiddlewarePutsSubjectInContext(t *testing.T) {
	svc, _ := NewService(Config{}, nil)
	body := []byte(`{"x":1}`)
	req, addr := signedRequest(t, http.MethodPost, "/v1/jobs", body, time.Now())

	var seen string
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s := SubjectFromContext(r.Context()); s != nil {
			seen = s.Address.Hex()
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated || seen != addr {
		t.Fatalf("status=%d signer=%s", rec.Code, seen)
	}

	unsigned := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, unsigned)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unsigned GET should pass, got %d", rec.Code)
	}
}

func TestUnsupportedMode(t *testing.T) {
	if _, err := NewService(Config{Mode: "jwt"}, nil); err == nil {
		t.Fatalf("expected error for unsupported mode")
	}
}
