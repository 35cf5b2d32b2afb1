package attempt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/attempt"
	"github.com/educontrol/payment-engine/internal/storage"
)

func stores(t *testing.T) map[string]attempt.Store {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(db))

	return map[string]attempt.Store{
		"memory": attempt.NewMemoryStore(),
		"sqlite": attempt.NewSQLiteStore(db),
	}
}

func seed(t *testing.T, s attempt.Store, id string, status attempt.Status, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), attempt.Attempt{
		ID:             id,
		InvoiceID:      "inv_1",
		Gateway:        "stripe",
		Method:         "card",
		IdempotencyKey: "inv_1:" + id,
		Status:         status,
		CreatedAt:      createdAt,
	}))
}

func TestStore_TransitionWritesGatewayIdentifiers(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "att_1", attempt.StatusInitiated, time.Time{})

			upd := &attempt.Update{GatewayTransactionID: "ch_9", Reference: "stripe_ch_9"}
			require.NoError(t, s.Transition(ctx, "att_1", attempt.StatusInitiated, attempt.StatusSucceeded, upd))

			got, err := s.Get(ctx, "att_1")
			require.NoError(t, err)
			assert.Equal(t, attempt.StatusSucceeded, got.Status)
			assert.Equal(t, "ch_9", got.GatewayTransactionID)
			assert.Equal(t, "stripe_ch_9", got.Reference)
		})
	}
}

func TestStore_TransitionKeepsIdentifiersWhenUpdateEmpty(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "att_1", attempt.StatusInitiated, time.Time{})
			require.NoError(t, s.Transition(ctx, "att_1", attempt.StatusInitiated, attempt.StatusSubmitted,
				&attempt.Update{GatewayTransactionID: "trx_1", Reference: "paystack_r1"}))

			// Finalizing without new identifiers must not blank the old ones.
			require.NoError(t, s.Transition(ctx, "att_1", attempt.StatusSubmitted, attempt.StatusSucceeded, nil))

			got, err := s.Get(ctx, "att_1")
			require.NoError(t, err)
			assert.Equal(t, "trx_1", got.GatewayTransactionID)
			assert.Equal(t, "paystack_r1", got.Reference)
		})
	}
}

func TestStore_TransitionOnlyOneFinalizerWins(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "att_1", attempt.StatusSubmitted, time.Time{})

			require.NoError(t, s.Transition(ctx, "att_1", attempt.StatusSubmitted, attempt.StatusSucceeded, nil))
			err := s.Transition(ctx, "att_1", attempt.StatusSubmitted, attempt.StatusFailed, nil)
			assert.ErrorIs(t, err, attempt.ErrStaleTransition)

			got, err := s.Get(ctx, "att_1")
			require.NoError(t, err)
			assert.Equal(t, attempt.StatusSucceeded, got.Status)
		})
	}
}

func TestStore_ListStale(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "att_old", attempt.StatusSubmitted, time.Time{})
			seed(t, s, "att_done", attempt.StatusSucceeded, time.Time{})

			time.Sleep(5 * time.Millisecond)
			cutoff := time.Now().UTC()
			seed(t, s, "att_fresh", attempt.StatusInitiated, time.Time{})

			stale, err := s.ListStale(ctx, cutoff)
			require.NoError(t, err)
			var ids []string
			for _, a := range stale {
				ids = append(ids, a.ID)
			}
			assert.Contains(t, ids, "att_old")
			assert.NotContains(t, ids, "att_done", "finalized attempts are never stale")
			assert.NotContains(t, ids, "att_fresh", "recently touched attempts wait for the next sweep")
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "ghost")
			assert.ErrorIs(t, err, attempt.ErrNotFound)
		})
	}
}
