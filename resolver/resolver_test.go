package resolver

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raid-guild/payment-watcher-go/types"
)

const (
	sender    = "Sender1111111111111111111111111111111111111"
	recipient = "Recipient111111111111111111111111111111111"
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var (
	sol  = types.Currency{Kind: types.AssetKindNative, Code: "SOL", Decimals: 9}
	usdc = types.Currency{Kind: types.AssetKindToken, Code: "USDC", Mint: usdcMint, Decimals: 6}
)

func TestNativeTransfer_Resolve(t *testing.T) {

	t.Run("positive delta without account keys", func(t *testing.T) {
		tx := &types.Transaction{
			PreBalances:  []uint64{1000, 500},
			PostBalances: []uint64{900, 600},
		}

		res, err := NativeTransfer{Currency: sol}.Resolve(tx)
		require.NoError(t, err)
		assert.True(t, res.BaseUnits.Equal(decimal.NewFromInt(100)), res.BaseUnits.String())
		assert.True(t, res.Amount.Equal(decimal.RequireFromString("0.0000001")), res.Amount.String())
		assert.Equal(t, "SOL", res.Currency)
	})

	t.Run("smallest positive delta wins", func(t *testing.T) {
		tx := &types.Transaction{
			PreBalances:  []uint64{10_000, 0, 0},
			PostBalances: []uint64{4_000, 5_000, 1_000},
		}

		res, err := NativeTransfer{Currency: sol}.Resolve(tx)
		require.NoError(t, err)
		assert.True(t, res.BaseUnits.Equal(decimal.NewFromInt(1_000)))
	})

	t.Run("recipient delta when account keys are known", func(t *testing.T) {
		tx := &types.Transaction{
			AccountKeys:  []string{sender, "Other", recipient},
			PreBalances:  []uint64{10_000, 0, 0},
			PostBalances: []uint64{4_000, 1_000, 5_000},
		}

		res, err := NativeTransfer{Recipient: recipient, Currency: sol}.Resolve(tx)
		require.NoError(t, err)
		assert.True(t, res.BaseUnits.Equal(decimal.NewFromInt(5_000)))
		assert.Equal(t, recipient, res.Account)
	})

	t.Run("recipient absent from account keys", func(t *testing.T) {
		tx := &types.Transaction{
			AccountKeys:  []string{sender, "Other"},
			PreBalances:  []uint64{10_000, 0},
			PostBalances: []uint64{4_000, 5_000},
		}

		_, err := NativeTransfer{Recipient: recipient, Currency: sol}.Resolve(tx)
		assert.True(t, errors.Is(err, ErrNoTransfer))
	})

	t.Run("fee only transaction is no transfer", func(t *testing.T) {
		tx := &types.Transaction{
			PreBalances:  []uint64{1000, 500},
			PostBalances: []uint64{995, 500},
		}

		_, err := NativeTransfer{Currency: sol}.Resolve(tx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoTransfer))
	})

	t.Run("failed transaction", func(t *testing.T) {
		tx := &types.Transaction{
			Err:          `{"InstructionError":[0,"Custom"]}`,
			PreBalances:  []uint64{1000, 500},
			PostBalances: []uint64{900, 600},
		}

		_, err := NativeTransfer{Currency: sol}.Resolve(tx)
		assert.True(t, errors.Is(err, ErrTransactionFailed))
	})

	t.Run("mismatched balance lengths", func(t *testing.T) {
		tx := &types.Transaction{
			PreBalances:  []uint64{1000},
			PostBalances: []uint64{900, 600},
		}

		_, err := NativeTransfer{Currency: sol}.Resolve(tx)
		assert.True(t, errors.Is(err, ErrNoTransfer))
	})
}

func TestTokenTransfer_Resolve(t *testing.T) {

	t.Run("delta on the expected mint", func(t *testing.T) {
		tx := &types.Transaction{
			PreTokenBalances: []types.TokenBalance{
				{AccountIndex: 1, Mint: usdcMint, Owner: sender, Amount: "90000000", Decimals: 6},
				{AccountIndex: 2, Mint: usdcMint, Owner: recipient, Amount: "0", Decimals: 6},
			},
			PostTokenBalances: []types.TokenBalance{
				{AccountIndex: 1, Mint: usdcMint, Owner: sender, Amount: "40000000", Decimals: 6},
				{AccountIndex: 2, Mint: usdcMint, Owner: recipient, Amount: "50000000", Decimals: 6},
			},
		}

		res, err := TokenTransfer{Recipient: recipient, Currency: usdc}.Resolve(tx)
		require.NoError(t, err)
		assert.Equal(t, "50.000000", res.Amount.StringFixed(6))
		assert.Equal(t, recipient, res.Account)
	})

	t.Run("ignores other mints", func(t *testing.T) {
		tx := &types.Transaction{
			PostTokenBalances: []types.TokenBalance{
				{AccountIndex: 2, Mint: "OtherMint", Owner: recipient, Amount: "50000000", Decimals: 6},
			},
		}

		_, err := TokenTransfer{Recipient: recipient, Currency: usdc}.Resolve(tx)
		assert.True(t, errors.Is(err, ErrNoTransfer))
	})

	t.Run("account created by the transaction", func(t *testing.T) {
		tx := &types.Transaction{
			PostTokenBalances: []types.TokenBalance{
				{AccountIndex: 3, Mint: usdcMint, Amount: "1250000", Decimals: 6},
			},
		}

		res, err := TokenTransfer{Currency: usdc}.Resolve(tx)
		require.NoError(t, err)
		assert.Equal(t, "1.25", res.Amount.String())
	})

	t.Run("failed transaction", func(t *testing.T) {
		tx := &types.Transaction{Err: "InsufficientFunds"}

		_, err := TokenTransfer{Currency: usdc}.Resolve(tx)
		assert.True(t, errors.Is(err, ErrTransactionFailed))
	})
}

func TestForReference(t *testing.T) {

	t.Run("native", func(t *testing.T) {
		r, err := ForReference(types.WatchedReference{Recipient: recipient, Currency: sol})
		require.NoError(t, err)
		assert.IsType(t, NativeTransfer{}, r)
	})

	t.Run("token", func(t *testing.T) {
		r, err := ForReference(types.WatchedReference{Recipient: recipient, Currency: usdc})
		require.NoError(t, err)
		assert.IsType(t, TokenTransfer{}, r)
	})

	t.Run("token without mint", func(t *testing.T) {
		_, err := ForReference(types.WatchedReference{Currency: types.Currency{Kind: types.AssetKindToken, Code: "X"}})
		assert.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := ForReference(types.WatchedReference{Currency: types.Currency{Kind: "nft"}})
		assert.Error(t, err)
	})
}
