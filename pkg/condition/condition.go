// Package condition evaluates comparison predicates against a contact's
// attribute snapshot. Predicates gate workflow entry and per-stage skips.
package condition

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Operator is the closed set of supported comparison operators. Parsing an
// unsupported operator fails at catalog-load time rather than silently
// defaulting at evaluation time.
type Operator string

const (
	OpEq Operator = "=="
	OpNe Operator = "!="
	OpGt Operator = ">"
	OpLt Operator = "<"
	OpGe Operator = ">="
	OpLe Operator = "<="
)

// ParseOperator validates a raw operator string against the closed set.
func ParseOperator(raw string) (Operator, error) {
	switch op := Operator(raw); op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe:
		return op, nil
	}
	return "", errors.Errorf("unknown operator %q", raw)
}

// Predicate is a single field/operator/value comparison.
type Predicate struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value string   `json:"value"`
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %q", p.Field, p.Op, p.Value)
}

// Evaluate runs the predicate against a flat attribute snapshot. A missing
// field compares as the operator's natural zero value, so e.g. a "!=" check
// against an absent field holds. Comparison is numeric when both sides parse
// as numbers, lexicographic otherwise.
func Evaluate(p Predicate, snapshot map[string]any) bool {
	actual := ""
	if v, ok := snapshot[p.Field]; ok && v != nil {
		actual = fmt.Sprintf("%v", v)
	}

	if an, aok := parseNumber(actual); aok {
		if en, eok := parseNumber(p.Value); eok {
			return compareNumbers(p.Op, an, en)
		}
	}
	return compareStrings(p.Op, actual, p.Value)
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	return n, err == nil
}

func compareNumbers(op Operator, actual, expected float64) bool {
	switch op {
	case OpEq:
		return actual == expected
	case OpNe:
		return actual != expected
	case OpGt:
		return actual > expected
	case OpLt:
		return actual < expected
	case OpGe:
		return actual >= expected
	case OpLe:
		return actual <= expected
	}
	// Unreachable for operators built through ParseOperator; a zero-valued
	// Operator keeps the historical permissive default.
	return true
}

func compareStrings(op Operator, actual, expected string) bool {
	switch op {
	case OpEq:
		return actual == expected
	case OpNe:
		return actual != expected
	case OpGt:
		return actual > expected
	case OpLt:
		return actual < expected
	case OpGe:
		return actual >= expected
	case OpLe:
		return actual <= expected
	}
	return true
}
