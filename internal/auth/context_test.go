package auth

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSignerFromContext(t *testing.T) {
	if _, ok := SignerFromContext(context.Background()); ok {
		t.Fatalf("empty context must not yield a signer")
	}

	// 零地址的主体等同于没有调用方。
	ctx := WithSubject(context.Background(), &Subject{})
	if _, ok := SignerFromContext(ctx); ok {
		t.Fatalf("zero address must not be stored")
	}

	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	ctx = WithSubject(context.Background(), &Subject{Address: alice, Verified: true})
	got, ok := SignerFromContext(ctx)
	if !ok || got != alice {
		t.Fatalf("unexpected signer %s ok=%v", got.Hex(), ok)
	}
	if s := SubjectFromContext(ctx); s == nil || !s.Verified {
		t.Fatalf("subject lost: %+v", s)
	}
}
