package calculator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorDisplay is shown after a failed evaluation.
const ErrorDisplay = "Error"

// DefaultHistorySize is the number of results remembered by default.
const DefaultHistorySize = 10

// Keypad actions accepted by Press besides digits and operation names.
const (
	KeyClear  = "clear"
	KeyEquals = "equals"
)

// State is a read-only view of a calculator.
type State struct {
	Current   string   `json:"current"`
	Previous  string   `json:"previous"`
	Operation string   `json:"operation,omitempty"`
	Display   string   `json:"display"`
	Pending   string   `json:"pending"`
	Error     bool     `json:"error"`
	History   []string `json:"history"`
}

// Calculator is the keypad state machine. It is not safe for concurrent use.
type Calculator struct {
	table       Table
	historySize int

	current   string
	previous  string
	operation string
	history   []string

	observer func(operation string, err error)
}

// New creates a calculator over table keeping at most historySize results.
func New(table Table, historySize int) *Calculator {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	return &Calculator{
		table:       table,
		historySize: historySize,
	}
}

// Observe registers fn to be called after every evaluation with the
// operation name and the evaluation error, if any.
func (c *Calculator) Observe(fn func(operation string, err error)) {
	c.observer = fn
}

// AppendDigit appends a digit or the decimal point to the current number.
// A second decimal point is ignored; typing after an error starts a new number.
func (c *Calculator) AppendDigit(d string) error {
	if len(d) != 1 || (d != "." && (d[0] < '0' || d[0] > '9')) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, d)
	}
	if c.current == ErrorDisplay {
		c.current = ""
	}
	if d == "." && strings.Contains(c.current, ".") {
		return nil
	}
	c.current += d
	return nil
}

// PrepareOperation stores the current number as the left operand of the
// binary operation op. A pending operation is evaluated first so operations
// chain. With no current number this is a no-op.
func (c *Calculator) PrepareOperation(op string) error {
	operation, err := c.table.Lookup(op)
	if err != nil {
		return err
	}
	if operation.Arity != 2 {
		return fmt.Errorf("%w: %s is not a binary operation", ErrUnknownOperation, op)
	}
	if c.current == "" || c.current == ErrorDisplay {
		return nil
	}

	if c.previous != "" {
		if err := c.Calculate(); err != nil {
			return err
		}
	}

	c.operation = op
	c.previous = c.current
	c.current = ""
	return nil
}

// Calculate evaluates the pending binary operation. It is a no-op when an
// operand or the operation is missing. On failure the display shows Error,
// nothing is added to the history, and the evaluation error is returned.
func (c *Calculator) Calculate() error {
	a, errA := parseOperand(c.previous)
	b, errB := parseOperand(c.current)
	op, errOp := c.table.Lookup(c.operation)
	if errA != nil || errB != nil || errOp != nil || op.Arity != 2 {
		return nil
	}

	result, err := c.table.Evaluate(op.Name, a, b)
	return c.handleResult(op.Name, op.Expression(a, b), result, err)
}

// ApplyUnary applies a unary operation to the current number. It is a no-op
// when there is no current number.
func (c *Calculator) ApplyUnary(op string) error {
	operation, err := c.table.Lookup(op)
	if err != nil {
		return err
	}
	if operation.Arity != 1 {
		return fmt.Errorf("%w: %s is not a unary operation", ErrUnknownOperation, op)
	}

	v, err := parseOperand(c.current)
	if err != nil {
		return nil
	}

	result, err := c.table.Evaluate(op, v)
	return c.handleResult(op, operation.Expression(v), result, err)
}

func (c *Calculator) handleResult(name, expression string, result float64, err error) error {
	c.operation = ""
	c.previous = ""
	if c.observer != nil {
		c.observer(name, err)
	}

	if err != nil {
		c.current = ErrorDisplay
		return err
	}

	formatted := FormatNumber(result)
	c.current = formatted
	c.addToHistory(expression + " = " + formatted)
	return nil
}

func (c *Calculator) addToHistory(entry string) {
	c.history = append([]string{entry}, c.history...)
	if len(c.history) > c.historySize {
		c.history = c.history[:c.historySize]
	}
}

// Clear resets the input and pending operation. The history is kept.
func (c *Calculator) Clear() {
	c.current = ""
	c.previous = ""
	c.operation = ""
}

// Press dispatches one keypad key: a digit or ".", "clear", "equals", or an
// operation name from the table.
func (c *Calculator) Press(key string) error {
	switch key {
	case KeyClear:
		c.Clear()
		return nil
	case KeyEquals:
		return c.Calculate()
	}

	if op, ok := c.table[key]; ok {
		if op.Arity == 1 {
			return c.ApplyUnary(key)
		}
		return c.PrepareOperation(key)
	}
	return c.AppendDigit(key)
}

// Display returns the main display line: the current number or "0".
func (c *Calculator) Display() string {
	if c.current == "" {
		return "0"
	}
	return c.current
}

// PendingDisplay returns the secondary display line, "<left> <symbol>" while
// a binary operation is pending.
func (c *Calculator) PendingDisplay() string {
	if c.previous == "" || c.operation == "" {
		return ""
	}
	op, err := c.table.Lookup(c.operation)
	if err != nil {
		return ""
	}
	return c.previous + " " + op.Symbol
}

// History returns the remembered results, newest first.
func (c *Calculator) History() []string {
	out := make([]string, len(c.history))
	copy(out, c.history)
	return out
}

// State returns a snapshot of the calculator.
func (c *Calculator) State() State {
	return State{
		Current:   c.current,
		Previous:  c.previous,
		Operation: c.operation,
		Display:   c.Display(),
		Pending:   c.PendingDisplay(),
		Error:     c.current == ErrorDisplay,
		History:   c.History(),
	}
}

// parseOperand parses s, tolerating a trailing decimal point ("3." is 3).
func parseOperand(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == ErrorDisplay {
		return 0, errors.New("no operand")
	}
	s = strings.TrimSuffix(s, ".")
	return strconv.ParseFloat(s, 64)
}
