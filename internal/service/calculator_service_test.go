package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/clock"
	"github.com/prn-tf/userdir/internal/metrics"
)

const session = "session-1"

func newTestCalculatorService(t *testing.T) (*CalculatorService, *metrics.Metrics) {
	t.Helper()
	svc, m, _ := newSessionCalculatorService(t, SessionConfig{HistorySize: 3, MaxSessions: 10, IdleTTL: time.Hour})
	return svc, m
}

func newSessionCalculatorService(t *testing.T, cfg SessionConfig) (*CalculatorService, *metrics.Metrics, *clock.Manual) {
	t.Helper()
	m := metrics.New()
	clk := clock.NewManual(t0)
	return NewCalculatorService(calculator.DefaultTable(), cfg, clk, m, zerolog.Nop()), m, clk
}

func TestCalculatorService_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		input   EvaluateInput
		want    *EvaluateOutput
		wantErr error
	}{
		{
			name:  "add",
			input: EvaluateInput{Operation: "add", Operands: []float64{2, 3}},
			want:  &EvaluateOutput{Operation: "add", Result: 5, Formatted: "5", Expression: "2 + 3 = 5"},
		},
		{
			name:  "sqrt",
			input: EvaluateInput{Operation: "sqrt", Operands: []float64{16}},
			want:  &EvaluateOutput{Operation: "sqrt", Result: 4, Formatted: "4", Expression: "√(16) = 4"},
		},
		{
			name:  "factorial",
			input: EvaluateInput{Operation: "factorial", Operands: []float64{5}},
			want:  &EvaluateOutput{Operation: "factorial", Result: 120, Formatted: "120", Expression: "5! = 120"},
		},
		{
			name:    "divide by zero",
			input:   EvaluateInput{Operation: "divide", Operands: []float64{1, 0}},
			wantErr: calculator.ErrInvalidOperand,
		},
		{
			name:    "overflow",
			input:   EvaluateInput{Operation: "factorial", Operands: []float64{171}},
			wantErr: calculator.ErrNonFinite,
		},
		{
			name:    "unknown operation",
			input:   EvaluateInput{Operation: "modulo", Operands: []float64{1, 2}},
			wantErr: calculator.ErrUnknownOperation,
		},
		{
			name:    "wrong arity",
			input:   EvaluateInput{Operation: "add", Operands: []float64{1}},
			wantErr: calculator.ErrArity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestCalculatorService(t)

			got, err := svc.Evaluate(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatorService_EvaluateMetrics(t *testing.T) {
	svc, m := newTestCalculatorService(t)
	ctx := context.Background()

	_, _ = svc.Evaluate(ctx, EvaluateInput{Operation: "add", Operands: []float64{1, 1}})
	_, _ = svc.Evaluate(ctx, EvaluateInput{Operation: "divide", Operands: []float64{1, 0}})
	_, _ = svc.Evaluate(ctx, EvaluateInput{Operation: "modulo", Operands: []float64{1, 0}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("divide", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CalculationsTotal))
}

func TestCalculatorService_EvaluateDoesNotTouchSession(t *testing.T) {
	svc, _ := newTestCalculatorService(t)

	_, err := svc.Evaluate(context.Background(), EvaluateInput{Operation: "add", Operands: []float64{1, 1}})
	require.NoError(t, err)
	require.Empty(t, svc.State(session).History)
}

func TestCalculatorService_Press(t *testing.T) {
	svc, m := newTestCalculatorService(t)
	ctx := context.Background()

	st, err := svc.Press(ctx, session, "1", "2", "multiply", "3")
	require.NoError(t, err)
	assert.Equal(t, "3", st.Display)
	assert.Equal(t, "12 ×", st.Pending)

	st, err = svc.Press(ctx, session, calculator.KeyEquals)
	require.NoError(t, err)
	assert.Equal(t, "36", st.Display)
	assert.Equal(t, []string{"12 × 3 = 36"}, st.History)

	st, err = svc.Press(ctx, session, "divide", "0", calculator.KeyEquals)
	require.NoError(t, err)
	assert.True(t, st.Error)
	assert.Equal(t, calculator.ErrorDisplay, st.Display)
	assert.Len(t, st.History, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("multiply", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalculationsTotal.WithLabelValues("divide", "error")))
}

func TestCalculatorService_PressInvalidKeyStops(t *testing.T) {
	svc, _ := newTestCalculatorService(t)

	st, err := svc.Press(context.Background(), session, "4", "x", "5")
	require.ErrorIs(t, err, calculator.ErrInvalidKey)
	assert.Equal(t, "4", st.Display)
}

func TestCalculatorService_ClearKeepsHistory(t *testing.T) {
	svc, _ := newTestCalculatorService(t)

	_, err := svc.Press(context.Background(), session, "9", "sqrt", "add", "1")
	require.NoError(t, err)

	st := svc.Clear(session)
	assert.Equal(t, "0", st.Display)
	assert.Empty(t, st.Pending)
	assert.Equal(t, []string{"√(9) = 3"}, st.History)
}

func TestCalculatorService_HistoryBounded(t *testing.T) {
	svc, _ := newTestCalculatorService(t)
	ctx := context.Background()

	for _, d := range []string{"1", "2", "3", "4"} {
		_, err := svc.Press(ctx, session, calculator.KeyClear, d, "add", "0", calculator.KeyEquals)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"4 + 0 = 4", "3 + 0 = 3", "2 + 0 = 2"}, svc.State(session).History)
}

func TestCalculatorService_ConcurrentPress(t *testing.T) {
	svc, _ := newTestCalculatorService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Press(ctx, session, calculator.KeyClear, "1", "add", "1", calculator.KeyEquals)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"1 + 1 = 2", "1 + 1 = 2", "1 + 1 = 2"}, svc.State(session).History)
}

func TestCalculatorService_SessionsAreIsolated(t *testing.T) {
	svc, _ := newTestCalculatorService(t)
	ctx := context.Background()

	_, err := svc.Press(ctx, "a", "7", "add")
	require.NoError(t, err)
	b, err := svc.Press(ctx, "b", "2", calculator.KeyEquals)
	require.NoError(t, err)
	assert.Equal(t, "2", b.Display)
	assert.Empty(t, b.History)

	a, err := svc.Press(ctx, "a", "3", calculator.KeyEquals)
	require.NoError(t, err)
	assert.Equal(t, []string{"7 + 3 = 10"}, a.History)
	assert.Empty(t, svc.State("b").History)
}

func TestCalculatorService_StateOfUnknownSession(t *testing.T) {
	svc, _ := newTestCalculatorService(t)

	st := svc.State("nobody")
	assert.Equal(t, "0", st.Display)
	assert.Empty(t, st.History)
	assert.Zero(t, svc.Sessions())

	assert.Equal(t, "0", svc.Clear("nobody").Display)
	assert.Zero(t, svc.Sessions())
}

func TestCalculatorService_PressRequiresSession(t *testing.T) {
	svc, _ := newTestCalculatorService(t)

	_, err := svc.Press(context.Background(), "", "1")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCalculatorService_EvictsLeastRecentlyUsed(t *testing.T) {
	svc, _, clk := newSessionCalculatorService(t, SessionConfig{HistorySize: 3, MaxSessions: 2})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := svc.Press(ctx, id, "1", "add", "1", calculator.KeyEquals)
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}
	// Touch a so b is the least recently used.
	_, err := svc.Press(ctx, "a", calculator.KeyClear)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	_, err = svc.Press(ctx, "c", "5")
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Sessions())
	assert.Len(t, svc.State("a").History, 1)
	assert.Empty(t, svc.State("b").History)
}

func TestCalculatorService_IdleSessionsExpire(t *testing.T) {
	svc, _, clk := newSessionCalculatorService(t, SessionConfig{HistorySize: 3, MaxSessions: 10, IdleTTL: time.Minute})
	ctx := context.Background()

	_, err := svc.Press(ctx, "a", "1", "add", "1", calculator.KeyEquals)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	assert.Len(t, svc.State("a").History, 1)

	clk.Advance(2 * time.Minute)
	assert.Empty(t, svc.State("a").History)

	st, err := svc.Press(ctx, "a", "4")
	require.NoError(t, err)
	assert.Equal(t, "4", st.Display)
	assert.Empty(t, st.History)
}

func TestCalculatorService_Operations(t *testing.T) {
	svc, _ := newTestCalculatorService(t)

	ops := svc.Operations()
	require.Len(t, ops, 7)
	assert.Equal(t, OperationInfo{Name: "add", Symbol: "+", Arity: 2}, ops[0])

	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	assert.IsIncreasing(t, names)
}

func TestIsEvaluationError(t *testing.T) {
	assert.True(t, IsEvaluationError(calculator.ErrInvalidOperand))
	assert.True(t, IsEvaluationError(calculator.ErrNonFinite))
	assert.False(t, IsEvaluationError(calculator.ErrInvalidKey))
	assert.False(t, IsEvaluationError(nil))
}
