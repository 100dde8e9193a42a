package calculator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTable_Evaluate(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		name    string
		op      string
		args    []float64
		want    float64
		wantErr error
	}{
		{"add", "add", []float64{2, 3}, 5, nil},
		{"subtract", "subtract", []float64{2, 3}, -1, nil},
		{"multiply", "multiply", []float64{2.5, 4}, 10, nil},
		{"divide", "divide", []float64{7, 2}, 3.5, nil},
		{"divide by zero", "divide", []float64{7, 0}, 0, ErrInvalidOperand},
		{"power", "power", []float64{2, 10}, 1024, nil},
		{"power overflow", "power", []float64{10, 400}, 0, ErrNonFinite},
		{"power nan", "power", []float64{-8, 1.0 / 3}, 0, ErrNonFinite},
		{"sqrt", "sqrt", []float64{81}, 9, nil},
		{"sqrt negative", "sqrt", []float64{-1}, 0, ErrInvalidOperand},
		{"factorial", "factorial", []float64{5}, 120, nil},
		{"factorial zero", "factorial", []float64{0}, 1, nil},
		{"factorial negative", "factorial", []float64{-3}, 0, ErrInvalidOperand},
		{"factorial fraction", "factorial", []float64{2.5}, 0, ErrInvalidOperand},
		{"factorial overflow", "factorial", []float64{171}, 0, ErrNonFinite},
		{"unknown", "modulo", []float64{1, 2}, 0, ErrUnknownOperation},
		{"arity", "add", []float64{1}, 0, ErrArity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Evaluate(tt.op, tt.args...)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTable_FactorialLargestFinite(t *testing.T) {
	got, err := DefaultTable().Evaluate("factorial", 170)
	require.NoError(t, err)
	require.False(t, math.IsInf(got, 0))
}

func TestTable_Pluggable(t *testing.T) {
	table := DefaultTable()
	table["modulo"] = Operation{Name: "modulo", Symbol: "%", Arity: 2, Apply: func(a ...float64) (float64, error) {
		return math.Mod(a[0], a[1]), nil
	}}

	got, err := table.Evaluate("modulo", 7, 3)
	require.NoError(t, err)
	require.Equal(t, 1.0, got)
	require.Contains(t, table.Names(), "modulo")
}

func TestOperation_Expression(t *testing.T) {
	table := DefaultTable()
	require.Equal(t, "2 + 3", table["add"].Expression(2, 3))
	require.Equal(t, "1.5 ÷ 0.5", table["divide"].Expression(1.5, 0.5))
	require.Equal(t, "√(9)", table["sqrt"].Expression(9))
	require.Equal(t, "5!", table["factorial"].Expression(5))
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{3, "3"},
		{0.1 + 0.2, "0.30000000000000004"},
		{1234567.5, "1234567.5"},
		{1e21, "1000000000000000000000"},
		{-2.25, "-2.25"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FormatNumber(tt.in))
	}
}

func TestTable_Names(t *testing.T) {
	require.Equal(t,
		[]string{"add", "divide", "factorial", "multiply", "power", "sqrt", "subtract"},
		DefaultTable().Names())
}
