// Package policy evaluates configurable business rules over payment
// attempts. Rules are govaluate expressions compiled once at startup; the
// reconciliation sweep consults them to decide whether a stuck attempt is
// still worth verifying or needs manual review.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Effect names what a matching rule decides.
type Effect string

const (
	// EffectRetry: the attempt may be verified/retried automatically.
	EffectRetry Effect = "retry"
	// EffectEscalate: the attempt needs manual review.
	EffectEscalate Effect = "escalate"
)

// RuleConfig is one rule: a named boolean expression with an effect.
// Expressions see the parameters passed to Evaluate, e.g.
// "attempt_age_ms < 86400000 && amount < 1000000".
type RuleConfig struct {
	Name       string
	Effect     Effect
	Expression string
}

// Decision is the aggregate outcome of evaluating all rules.
type Decision struct {
	AllowRetry     bool
	EscalateManual bool
	// MatchedRules lists the names of rules that evaluated true.
	MatchedRules []string
}

type compiledRule struct {
	cfg  RuleConfig
	expr *govaluate.EvaluableExpression
}

// Enforcer holds compiled rules.
type Enforcer struct {
	rules []compiledRule
}

// NewEnforcer compiles the rule expressions. A malformed expression fails
// fast at startup rather than at evaluation time.
func NewEnforcer(rules []RuleConfig) (*Enforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rc := range rules {
		expr, err := govaluate.NewEvaluableExpression(rc.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: compile rule %q: %w", rc.Name, err)
		}
		compiled = append(compiled, compiledRule{cfg: rc, expr: expr})
	}
	return &Enforcer{rules: compiled}, nil
}

// DefaultRules allow automatic reconciliation for attempts younger than a
// day and escalate anything older, plus any attempt at or above one million
// minor units.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Name: "reconcile-recent", Effect: EffectRetry, Expression: "attempt_age_ms < 86400000"},
		{Name: "escalate-stale", Effect: EffectEscalate, Expression: "attempt_age_ms >= 86400000"},
		{Name: "escalate-large", Effect: EffectEscalate, Expression: "amount >= 1000000"},
	}
}

// Evaluate runs every rule against the parameters. Unknown parameters make
// an expression error, which is reported rather than swallowed.
func (e *Enforcer) Evaluate(params map[string]any) (Decision, error) {
	var d Decision
	for _, r := range e.rules {
		res, err := r.expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: evaluate rule %q: %w", r.cfg.Name, err)
		}
		matched, ok := res.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("policy: rule %q did not evaluate to bool", r.cfg.Name)
		}
		if !matched {
			continue
		}
		d.MatchedRules = append(d.MatchedRules, r.cfg.Name)
		switch r.cfg.Effect {
		case EffectRetry:
			d.AllowRetry = true
		case EffectEscalate:
			d.EscalateManual = true
		}
	}
	return d, nil
}
