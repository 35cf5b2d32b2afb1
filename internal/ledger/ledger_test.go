package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/ledger"
	"github.com/educontrol/payment-engine/internal/storage"
)

func ledgers(t *testing.T) map[string]ledger.Ledger {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db))

	return map[string]ledger.Ledger{
		"memory": ledger.NewMemoryLedger(),
		"sqlite": ledger.NewSQLiteLedger(db),
	}
}

func TestLedger_FirstReserveWins(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateNew, first.State)
			assert.Equal(t, "att_1", first.AttemptID)

			second, err := l.Reserve(ctx, "inv_1", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateInFlight, second.State)
			assert.Equal(t, "att_1", second.AttemptID, "the holder's attempt id, not the loser's")
		})
	}
}

func TestLedger_ReleaseAllowsResume(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
			require.NoError(t, err)
			require.NoError(t, l.Release(ctx, "inv_1", "k1"))

			res, err := l.Reserve(ctx, "inv_1", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateResumed, res.State)
			assert.Equal(t, "att_1", res.AttemptID, "a resumed key reuses the original attempt")
		})
	}
}

func TestLedger_CompleteReplaysOutcome(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
			require.NoError(t, err)
			require.NoError(t, l.Complete(ctx, "inv_1", "k1", ledger.Outcome{
				AttemptID:     "att_1",
				Succeeded:     true,
				Reference:     "stripe_ch_1",
				TransactionID: "ch_1",
			}))

			res, err := l.Reserve(ctx, "inv_1", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateReplayed, res.State)
			require.NotNil(t, res.Outcome)
			assert.True(t, res.Outcome.Succeeded)
			assert.Equal(t, "stripe_ch_1", res.Outcome.Reference)
			assert.Equal(t, "ch_1", res.Outcome.TransactionID)
			assert.Equal(t, "att_1", res.Outcome.AttemptID)
		})
	}
}

func TestLedger_FailedOutcomeAlsoReplays(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
			require.NoError(t, err)
			require.NoError(t, l.Complete(ctx, "inv_1", "k1", ledger.Outcome{
				AttemptID: "att_1",
				Succeeded: false,
				Reason:    "insufficient_funds",
			}))

			res, err := l.Reserve(ctx, "inv_1", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateReplayed, res.State)
			require.NotNil(t, res.Outcome)
			assert.False(t, res.Outcome.Succeeded)
		})
	}
}

func TestLedger_ReleaseAfterCompleteIsNoOp(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
			require.NoError(t, err)
			require.NoError(t, l.Complete(ctx, "inv_1", "k1", ledger.Outcome{AttemptID: "att_1", Succeeded: true}))
			require.NoError(t, l.Release(ctx, "inv_1", "k1"))

			res, err := l.Reserve(ctx, "inv_1", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateReplayed, res.State, "a completed key can never be resumed")
		})
	}
}

func TestLedger_CompleteWithoutReservation(t *testing.T) {
	// Happens when the reconciliation sweep finalizes an attempt created by
	// a process that died before reserving survived a restart.
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Complete(ctx, "inv_1", "k1", ledger.Outcome{AttemptID: "att_1", Succeeded: true, Reference: "r1"}))

			res, err := l.Reserve(ctx, "inv_1", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateReplayed, res.State)
			require.NotNil(t, res.Outcome)
			assert.Equal(t, "r1", res.Outcome.Reference)
		})
	}
}

func TestLedger_SameKeyDifferentInvoicesAreIndependent(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
			require.NoError(t, err)
			b, err := l.Reserve(ctx, "inv_2", "k1", "att_2")
			require.NoError(t, err)
			assert.Equal(t, ledger.StateNew, a.State)
			assert.Equal(t, ledger.StateNew, b.State)
		})
	}
}

func TestLedger_ConcurrentReserveSingleWinner(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			const n = 32
			ctx := context.Background()

			var wg sync.WaitGroup
			states := make([]ledger.State, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					res, err := l.Reserve(ctx, "inv_1", "k1", "att_1")
					if err != nil {
						t.Errorf("reserve: %v", err)
						return
					}
					states[i] = res.State
				}(i)
			}
			wg.Wait()

			winners := 0
			for _, s := range states {
				switch s {
				case ledger.StateNew:
					winners++
				case ledger.StateInFlight:
				default:
					t.Fatalf("unexpected reservation state %v", s)
				}
			}
			assert.Equal(t, 1, winners, "exactly one concurrent caller may own the key")
		})
	}
}

func TestDeriveKey(t *testing.T) {
	t.Run("client nonce wins", func(t *testing.T) {
		got := ledger.DeriveKey("inv_1", "k1", "stripe", "card", 50000, "USD")
		assert.Equal(t, "inv_1:k1", got)
	})

	t.Run("derived key is stable for identical requests", func(t *testing.T) {
		a := ledger.DeriveKey("inv_1", "", "stripe", "card", 50000, "USD")
		b := ledger.DeriveKey("inv_1", "", "stripe", "card", 50000, "USD")
		assert.Equal(t, a, b)
	})

	t.Run("derived key changes with the charge fields", func(t *testing.T) {
		a := ledger.DeriveKey("inv_1", "", "stripe", "card", 50000, "USD")
		b := ledger.DeriveKey("inv_1", "", "stripe", "card", 60000, "USD")
		c := ledger.DeriveKey("inv_1", "", "paystack", "card", 50000, "USD")
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, a, c)
	})
}
