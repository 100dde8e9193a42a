package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/metrics"
)

// CalculatorService exposes the operation table and per-client keypad
// sessions.
type CalculatorService struct {
	table   calculator.Table
	config  SessionConfig
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*keypadSession
}

// SessionConfig bounds the keypad sessions.
type SessionConfig struct {
	// HistorySize bounds the history of each session.
	HistorySize int

	// MaxSessions bounds the number of sessions kept. The least recently
	// used one is dropped to make room.
	MaxSessions int

	// IdleTTL drops sessions unused for longer. Zero disables expiry.
	IdleTTL time.Duration
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HistorySize: calculator.DefaultHistorySize,
		MaxSessions: 1000,
		IdleTTL:     30 * time.Minute,
	}
}

type keypadSession struct {
	calc     *calculator.Calculator
	lastUsed time.Time
}

// NewCalculatorService creates a new CalculatorService. m may be nil.
func NewCalculatorService(table calculator.Table, config SessionConfig, clk clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *CalculatorService {
	return &CalculatorService{
		table:    table,
		config:   config,
		clock:    clk,
		metrics:  m,
		logger:   logger.With().Str("service", "calculator").Logger(),
		sessions: make(map[string]*keypadSession),
	}
}

func (s *CalculatorService) record(operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordCalculation(operation, err)
	}
}

// NewSessionID returns a fresh keypad session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Sessions returns the number of live keypad sessions.
func (s *CalculatorService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *CalculatorService) expired(sess *keypadSession, now time.Time) bool {
	return s.config.IdleTTL > 0 && now.Sub(sess.lastUsed) > s.config.IdleTTL
}

// sessionLocked returns the live session for id, creating it when missing
// or expired. Caller holds s.mu.
func (s *CalculatorService) sessionLocked(id string) *calculator.Calculator {
	now := s.clock.Now()
	if sess, ok := s.sessions[id]; ok {
		if !s.expired(sess, now) {
			sess.lastUsed = now
			return sess.calc
		}
		delete(s.sessions, id)
	}

	s.evictLocked(now)

	calc := calculator.New(s.table, s.config.HistorySize)
	calc.Observe(s.record)
	s.sessions[id] = &keypadSession{calc: calc, lastUsed: now}
	return calc
}

// evictLocked drops expired sessions and, when still full, the least
// recently used one. Caller holds s.mu.
func (s *CalculatorService) evictLocked(now time.Time) {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			continue
		}
		if oldestID == "" || sess.lastUsed.Before(oldest) {
			oldestID, oldest = id, sess.lastUsed
		}
	}
	if s.config.MaxSessions > 0 && len(s.sessions) >= s.config.MaxSessions {
		delete(s.sessions, oldestID)
		s.logger.Debug().Str("session", oldestID).Msg("keypad session evicted")
	}
}

// OperationInfo describes one entry of the operation table.
type OperationInfo struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Arity  int    `json:"arity"`
}

// Operations lists the available operations sorted by name.
func (s *CalculatorService) Operations() []OperationInfo {
	names := s.table.Names()
	out := make([]OperationInfo, 0, len(names))
	for _, name := range names {
		op := s.table[name]
		out = append(out, OperationInfo{Name: op.Name, Symbol: op.Symbol, Arity: op.Arity})
	}
	return out
}

// EvaluateInput contains a stateless evaluation request.
type EvaluateInput struct {
	Operation string
	Operands  []float64
}

// EvaluateOutput contains the result of a stateless evaluation.
type EvaluateOutput struct {
	Operation  string  `json:"operation"`
	Result     float64 `json:"result"`
	Formatted  string  `json:"formatted"`
	Expression string  `json:"expression"`
}

// Evaluate applies one operation without touching the keypad session.
func (s *CalculatorService) Evaluate(ctx context.Context, input EvaluateInput) (*EvaluateOutput, error) {
	op, err := s.table.Lookup(input.Operation)
	if err != nil {
		return nil, err
	}

	result, err := s.table.Evaluate(op.Name, input.Operands...)
	s.record(op.Name, err)
	if err != nil {
		s.logger.Debug().Err(err).Str("operation", op.Name).Msg("evaluation failed")
		return nil, err
	}

	formatted := calculator.FormatNumber(result)
	return &EvaluateOutput{
		Operation:  op.Name,
		Result:     result,
		Formatted:  formatted,
		Expression: op.Expression(input.Operands...) + " = " + formatted,
	}, nil
}

// Press feeds keys to the session's keypad in order and returns the
// resulting state. Evaluation failures show in the state as the Error
// display; an unknown key stops processing and is returned with the state
// reached so far.
func (s *CalculatorService) Press(ctx context.Context, sessionID string, keys ...string) (calculator.State, error) {
	if sessionID == "" {
		return calculator.State{}, fmt.Errorf("%w: missing calculator session", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	calc := s.sessionLocked(sessionID)
	for _, key := range keys {
		if err := calc.Press(key); err != nil && !IsEvaluationError(err) {
			return calc.State(), err
		}
	}
	return calc.State(), nil
}

// State returns the session's keypad state. Unknown sessions report the
// state of a fresh keypad without creating one.
func (s *CalculatorService) State(sessionID string) calculator.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok && !s.expired(sess, s.clock.Now()) {
		return sess.calc.State()
	}
	return calculator.New(s.table, s.config.HistorySize).State()
}

// Clear resets the session's keypad input. The history is kept.
func (s *CalculatorService) Clear(sessionID string) calculator.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess, s.clock.Now()) {
		return calculator.New(s.table, s.config.HistorySize).State()
	}
	sess.lastUsed = s.clock.Now()
	sess.calc.Clear()
	return sess.calc.State()
}

// IsEvaluationError reports whether err came from applying an operation to
// its operands, as opposed to a malformed request.
func IsEvaluationError(err error) bool {
	return errors.Is(err, calculator.ErrInvalidOperand) || errors.Is(err, calculator.ErrNonFinite)
}
