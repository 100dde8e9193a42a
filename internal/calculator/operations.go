// Package calculator implements a pluggable arithmetic operation table and a
// keypad calculator with a bounded result history.
package calculator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	// ErrInvalidOperand indicates an operand outside the operation's domain
	// (division by zero, square root of a negative, non-integer factorial).
	ErrInvalidOperand = errors.New("invalid operand")

	// ErrNonFinite indicates the result is infinite or NaN.
	ErrNonFinite = errors.New("result is not finite")

	// ErrUnknownOperation indicates the operation is not in the table.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrArity indicates the wrong number of operands was supplied.
	ErrArity = errors.New("wrong number of operands")

	// ErrInvalidKey indicates a keypad key that is neither a digit nor a known action.
	ErrInvalidKey = errors.New("invalid key")
)

// maxFactorial is the largest n whose factorial fits in a float64.
const maxFactorial = 170

// Operation is one entry of the operation table.
type Operation struct {
	Name   string
	Symbol string
	Arity  int
	Apply  func(args ...float64) (float64, error)
}

// Table maps operation names to operations.
type Table map[string]Operation

// DefaultTable returns the binary operations add, subtract, multiply, divide,
// power and the unary operations sqrt, factorial.
func DefaultTable() Table {
	return Table{
		"add": {Name: "add", Symbol: "+", Arity: 2, Apply: func(a ...float64) (float64, error) {
			return a[0] + a[1], nil
		}},
		"subtract": {Name: "subtract", Symbol: "−", Arity: 2, Apply: func(a ...float64) (float64, error) {
			return a[0] - a[1], nil
		}},
		"multiply": {Name: "multiply", Symbol: "×", Arity: 2, Apply: func(a ...float64) (float64, error) {
			return a[0] * a[1], nil
		}},
		"divide": {Name: "divide", Symbol: "÷", Arity: 2, Apply: func(a ...float64) (float64, error) {
			if a[1] == 0 {
				return 0, fmt.Errorf("%w: division by zero", ErrInvalidOperand)
			}
			return a[0] / a[1], nil
		}},
		"power": {Name: "power", Symbol: "^", Arity: 2, Apply: func(a ...float64) (float64, error) {
			return math.Pow(a[0], a[1]), nil
		}},
		"sqrt": {Name: "sqrt", Symbol: "√", Arity: 1, Apply: func(a ...float64) (float64, error) {
			if a[0] < 0 {
				return 0, fmt.Errorf("%w: square root of a negative number", ErrInvalidOperand)
			}
			return math.Sqrt(a[0]), nil
		}},
		"factorial": {Name: "factorial", Symbol: "!", Arity: 1, Apply: factorial},
	}
}

func factorial(a ...float64) (float64, error) {
	n := a[0]
	if n < 0 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: factorial needs a non-negative integer", ErrInvalidOperand)
	}
	if n > maxFactorial {
		return math.Inf(1), nil
	}

	result := 1.0
	for i := 2.0; i <= n; i++ {
		result *= i
	}
	return result, nil
}

// Lookup returns the named operation.
func (t Table) Lookup(name string) (Operation, error) {
	op, ok := t[name]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// Evaluate applies the named operation. Non-finite results are reported as
// ErrNonFinite.
func (t Table) Evaluate(name string, args ...float64) (float64, error) {
	op, err := t.Lookup(name)
	if err != nil {
		return 0, err
	}
	if len(args) != op.Arity {
		return 0, fmt.Errorf("%w: %s takes %d, got %d", ErrArity, name, op.Arity, len(args))
	}

	result, err := op.Apply(args...)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, ErrNonFinite
	}
	return result, nil
}

// Names returns the operation names in sorted order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expression renders an application of op to args the way it appears in the history.
func (op Operation) Expression(args ...float64) string {
	switch {
	case op.Arity == 2 && len(args) == 2:
		return FormatNumber(args[0]) + " " + op.Symbol + " " + FormatNumber(args[1])
	case op.Name == "sqrt" && len(args) == 1:
		return op.Symbol + "(" + FormatNumber(args[0]) + ")"
	case len(args) == 1:
		return FormatNumber(args[0]) + op.Symbol
	default:
		return op.Name
	}
}

// FormatNumber renders v without digit grouping, as the shortest decimal that
// round-trips.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
