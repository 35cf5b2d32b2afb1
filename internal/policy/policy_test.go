package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educontrol/payment-engine/internal/policy"
)

func TestNewEnforcer_MalformedExpressionFailsFast(t *testing.T) {
	_, err := policy.NewEnforcer([]policy.RuleConfig{
		{Name: "broken", Effect: policy.EffectRetry, Expression: "amount >< 5"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestEnforcer_DefaultRules(t *testing.T) {
	enf, err := policy.NewEnforcer(policy.DefaultRules())
	require.NoError(t, err)

	t.Run("recent small attempt may be retried", func(t *testing.T) {
		d, err := enf.Evaluate(map[string]any{
			"attempt_age_ms": float64(5 * 60 * 1000),
			"amount":         float64(50000),
			"gateway":        "stripe",
			"attempt_status": "submitted",
		})
		require.NoError(t, err)
		assert.True(t, d.AllowRetry)
		assert.False(t, d.EscalateManual)
		assert.Contains(t, d.MatchedRules, "reconcile-recent")
	})

	t.Run("day-old attempt escalates", func(t *testing.T) {
		d, err := enf.Evaluate(map[string]any{
			"attempt_age_ms": float64(2 * 86400000),
			"amount":         float64(50000),
			"gateway":        "stripe",
			"attempt_status": "submitted",
		})
		require.NoError(t, err)
		assert.False(t, d.AllowRetry)
		assert.True(t, d.EscalateManual)
		assert.Contains(t, d.MatchedRules, "escalate-stale")
	})

	t.Run("large amount escalates even when recent", func(t *testing.T) {
		d, err := enf.Evaluate(map[string]any{
			"attempt_age_ms": float64(1000),
			"amount":         float64(5000000),
			"gateway":        "paystack",
			"attempt_status": "submitted",
		})
		require.NoError(t, err)
		assert.True(t, d.AllowRetry, "the recency rule still matches")
		assert.True(t, d.EscalateManual)
		assert.Contains(t, d.MatchedRules, "escalate-large")
	})
}

func TestEnforcer_CustomRuleParameters(t *testing.T) {
	enf, err := policy.NewEnforcer([]policy.RuleConfig{
		{Name: "no-flaky-gateway", Effect: policy.EffectEscalate, Expression: `gateway == "flutterwave" && attempt_status == "initiated"`},
	})
	require.NoError(t, err)

	d, err := enf.Evaluate(map[string]any{
		"gateway":        "flutterwave",
		"attempt_status": "initiated",
	})
	require.NoError(t, err)
	assert.True(t, d.EscalateManual)
}

func TestEnforcer_MissingParameterIsAnError(t *testing.T) {
	enf, err := policy.NewEnforcer(policy.DefaultRules())
	require.NoError(t, err)

	_, err = enf.Evaluate(map[string]any{"amount": float64(1)})
	assert.Error(t, err)
}

func TestEnforcer_NonBooleanRuleIsAnError(t *testing.T) {
	enf, err := policy.NewEnforcer([]policy.RuleConfig{
		{Name: "arith", Effect: policy.EffectRetry, Expression: "amount + 1"},
	})
	require.NoError(t, err)

	_, err = enf.Evaluate(map[string]any{"amount": float64(1)})
	assert.Error(t, err)
}
