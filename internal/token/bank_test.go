package token

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

var (
	usdc   = common.HexToAddress("0x000000000000000000000000000000000000a5dc")
	issuer = common.HexToAddress("0x0000000000000000000000000000000000001550")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func setup(t *testing.T) (*ledger.Ledger, *Bank) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryBackend(), ledger.WithClock(ledger.NewManualClock(100)))
	bank := NewBank()
	_, err := l.Invoke(context.Background(), ledger.Invocation{Operation: "genesis", Signers: []common.Address{issuer}}, func(env *ledger.Env) error {
		if err := bank.RegisterAsset(env, usdc, issuer, "USDC", 7); err != nil {
			return err
		}
		return bank.Mint(env, usdc, alice, amount.New(1_000))
	})
	require.NoError(t, err)
	return l, bank
}

func invoke(t *testing.T, l *ledger.Ledger, signer common.Address, fn func(*ledger.Env) error) error {
	t.Helper()
	_, err := l.Invoke(context.Background(), ledger.Invocation{Operation: "test", Signers: []common.Address{signer}}, fn)
	return err
}

func balanceOf(t *testing.T, l *ledger.Ledger, bank *Bank, account common.Address) amount.Amount {
	t.Helper()
	var bal amount.Amount
	require.NoError(t, l.View(context.Background(), func(env *ledger.Env) error {
		var err error
		bal, err = bank.Balance(env, usdc, account)
		return err
	}))
	return bal
}

func TestTransferMovesFunds(t *testing.T) {
	l, bank := setup(t)
	require.NoError(t, invoke(t, l, alice, func(env *ledger.Env) error {
		return bank.Transfer(env, usdc, alice, bob, amount.New(400))
	}))
	assert.Equal(t, "600", balanceOf(t, l, bank, alice).String())
	assert.Equal(t, "400", balanceOf(t, l, bank, bob).String())
}

func TestTransferRequiresSenderAuth(t *testing.T) {
	l, bank := setup(t)
	err := invoke(t, l, bob, func(env *ledger.Env) error {
		return bank.Transfer(env, usdc, alice, bob, amount.New(1))
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))
}

func TestTransferShortfallRollsBack(t *testing.T) {
	l, bank := setup(t)
	err := invoke(t, l, alice, func(env *ledger.Env) error {
		if err := bank.Transfer(env, usdc, alice, bob, amount.New(500)); err != nil {
			return err
		}
		return bank.Transfer(env, usdc, alice, bob, amount.New(501))
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInsufficientBalance))
	assert.Equal(t, "1000", balanceOf(t, l, bank, alice).String())
	assert.True(t, balanceOf(t, l, bank, bob).IsZero())
}

func TestRegisterAssetIsInitOnce(t *testing.T) {
	l, bank := setup(t)
	err := invoke(t, l, issuer, func(env *ledger.Env) error {
		return bank.RegisterAsset(env, usdc, issuer, "USDC", 7)
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeAlreadyInitialized))
}

func TestMintOnlyByIssuer(t *testing.T) {
	l, bank := setup(t)
	err := invoke(t, l, alice, func(env *ledger.Env) error {
		return bank.Mint(env, usdc, alice, amount.New(1))
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeUnauthorized))

	err = invoke(t, l, issuer, func(env *ledger.Env) error {
		return bank.Mint(env, common.HexToAddress("0xdead"), alice, amount.New(1))
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotFound))
}

func TestAllowanceLifecycle(t *testing.T) {
	l, bank := setup(t)
	require.NoError(t, invoke(t, l, alice, func(env *ledger.Env) error {
		return bank.Approve(env, usdc, alice, bob, amount.New(300), env.Sequence()+10)
	}))

	require.NoError(t, invoke(t, l, bob, func(env *ledger.Env) error {
		return bank.TransferFrom(env, usdc, bob, alice, bob, amount.New(200))
	}))
	assert.Equal(t, "200", balanceOf(t, l, bank, bob).String())

	err := invoke(t, l, bob, func(env *ledger.Env) error {
		return bank.TransferFrom(env, usdc, bob, alice, bob, amount.New(101))
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInsufficientBalance))

	require.NoError(t, l.View(context.Background(), func(env *ledger.Env) error {
		left, err := bank.Allowance(env, usdc, alice, bob)
		assert.Equal(t, "100", left.String())
		return err
	}))
}

func TestExpiredAllowanceIsZero(t *testing.T) {
	l, bank := setup(t)
	require.NoError(t, invoke(t, l, alice, func(env *ledger.Env) error {
		return bank.Approve(env, usdc, alice, bob, amount.New(300), env.Sequence())
	}))
	require.NoError(t, invoke(t, l, alice, func(*ledger.Env) error { return nil }))

	err := invoke(t, l, bob, func(env *ledger.Env) error {
		return bank.TransferFrom(env, usdc, bob, alice, bob, amount.New(1))
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInsufficientBalance))
}

func TestContractFrameAuthorizesOwnAccount(t *testing.T) {
	l, bank := setup(t)
	vault := ledger.ContractAddress("vault")
	require.NoError(t, invoke(t, l, alice, func(env *ledger.Env) error {
		return bank.Transfer(env, usdc, alice, vault, amount.New(50))
	}))

	require.NoError(t, invoke(t, l, bob, func(env *ledger.Env) error {
		return env.Call(vault, func() error {
			return bank.Transfer(env, usdc, vault, bob, amount.New(50))
		})
	}))
	assert.Equal(t, "50", balanceOf(t, l, bank, bob).String())
}
