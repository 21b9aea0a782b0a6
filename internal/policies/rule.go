package policies

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Match combines condition outcomes.
type Match string

const (
	MatchAll Match = "all"
	MatchAny Match = "any"
)

// Op is a condition operator.
type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpIn     Op = "in"
	OpExists Op = "exists"
)

var ops = []Op{OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpExists}

// Result is the outcome of evaluating a rule.
type Result string

const (
	ResultPass         Result = "pass"
	ResultFail         Result = "fail"
	ResultInconclusive Result = "inconclusive"
)

// Scalar fact fields; dimensions.<key> and context.<key> address nested values.
var scalarFields = []string{"severity", "status", "occurrence_count", "signal_type", "pack"}
var nestedFields = []string{"dimensions", "context"}

// severityOrder lets ordered operators compare severities by rank.
var severityOrder = []string{"low", "medium", "high", "critical"}

// ErrInvalidRule indicates a malformed rule document.
var ErrInvalidRule = errors.New("invalid rule")

// Rule is a policy version's executable definition.
type Rule struct {
	Match      Match       `json:"match"`
	Conditions []Condition `json:"conditions"`
}

// Condition tests one fact.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Outcome records how one condition evaluated.
type Outcome struct {
	Field    string `json:"field"`
	Op       Op     `json:"op"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Passed   bool   `json:"passed"`
	Missing  bool   `json:"missing,omitempty"`
}

// Validate checks the rule is well formed. An empty match defaults to all.
func (r *Rule) Validate() error {
	if r.Match == "" {
		r.Match = MatchAll
	}
	if r.Match != MatchAll && r.Match != MatchAny {
		return fmt.Errorf("%w: match must be all or any, got %q", ErrInvalidRule, r.Match)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition required", ErrInvalidRule)
	}

	for i, c := range r.Conditions {
		if err := c.validate(); err != nil {
			return fmt.Errorf("%w: condition %d: %v", ErrInvalidRule, i, err)
		}
	}
	return nil
}

func (c Condition) validate() error {
	if !knownField(c.Field) {
		return fmt.Errorf("unknown field %q", c.Field)
	}
	if !slices.Contains(ops, c.Op) {
		return fmt.Errorf("unknown op %q", c.Op)
	}

	switch c.Op {
	case OpExists:
		if c.Value != nil {
			if _, ok := c.Value.(bool); !ok {
				return errors.New("exists takes a boolean value")
			}
		}
	case OpIn:
		if _, ok := c.Value.([]any); !ok {
			return errors.New("in takes an array value")
		}
	default:
		if c.Value == nil {
			return fmt.Errorf("%s requires a value", c.Op)
		}
	}
	return nil
}

func knownField(field string) bool {
	if slices.Contains(scalarFields, field) {
		return true
	}
	root, key, ok := strings.Cut(field, ".")
	return ok && key != "" && slices.Contains(nestedFields, root)
}

// Evaluate applies the rule to facts. Any condition whose field is absent
// from facts makes the result inconclusive; otherwise conditions combine
// under the rule's match mode.
func (r Rule) Evaluate(facts map[string]any) (Result, []Outcome) {
	outcomes := make([]Outcome, len(r.Conditions))
	missing := false
	passed := 0

	for i, c := range r.Conditions {
		o := c.evaluate(facts)
		outcomes[i] = o
		if o.Missing {
			missing = true
		}
		if o.Passed {
			passed++
		}
	}

	switch {
	case missing:
		return ResultInconclusive, outcomes
	case r.Match == MatchAny && passed > 0:
		return ResultPass, outcomes
	case r.Match != MatchAny && passed == len(outcomes):
		return ResultPass, outcomes
	default:
		return ResultFail, outcomes
	}
}

func (c Condition) evaluate(facts map[string]any) Outcome {
	o := Outcome{Field: c.Field, Op: c.Op, Expected: c.Value}

	actual, ok := Lookup(facts, c.Field)

	if c.Op == OpExists {
		want := true
		if b, isBool := c.Value.(bool); isBool {
			want = b
		}
		o.Actual = ok
		o.Passed = ok == want
		return o
	}

	if !ok {
		o.Missing = true
		return o
	}
	o.Actual = actual

	switch c.Op {
	case OpEq:
		o.Passed = equal(actual, c.Value)
	case OpNeq:
		o.Passed = !equal(actual, c.Value)
	case OpIn:
		values, _ := c.Value.([]any)
		o.Passed = slices.ContainsFunc(values, func(v any) bool { return equal(actual, v) })
	default:
		cmp, comparable := compare(actual, c.Value)
		if !comparable {
			return o
		}
		switch c.Op {
		case OpGt:
			o.Passed = cmp > 0
		case OpGte:
			o.Passed = cmp >= 0
		case OpLt:
			o.Passed = cmp < 0
		case OpLte:
			o.Passed = cmp <= 0
		}
	}
	return o
}

// Lookup resolves a dotted field path against facts. Null values count as absent.
func Lookup(facts map[string]any, field string) (any, bool) {
	var cur any = facts
	for part := range strings.SplitSeq(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) (int, bool) {
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		ra, rb := slices.Index(severityOrder, sa), slices.Index(severityOrder, sb)
		if ra >= 0 && rb >= 0 {
			return ra - rb, true
		}
	}

	fa, ok := number(a)
	if !ok {
		return 0, false
	}
	fb, ok := number(b)
	if !ok {
		return 0, false
	}

	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	default:
		return 0, true
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
