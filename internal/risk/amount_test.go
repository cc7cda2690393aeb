package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  float64
		ok    bool
	}{
		{name: "plain float", input: 1234.56, want: 1234.56, ok: true},
		{name: "int", input: 500, want: 500, ok: true},
		{name: "int64", input: int64(42), want: 42, ok: true},
		{name: "dollar with thousands separator", input: "$10,000.00", want: 10000, ok: true},
		{name: "euro symbol", input: "€250.50", want: 250.50, ok: true},
		{name: "spaces inside", input: "1 000 000", want: 1000000, ok: true},
		{name: "bare numeric string", input: "99.9", want: 99.9, ok: true},
		{name: "garbage string", input: "ten dollars", want: 0, ok: false},
		{name: "empty string", input: "", want: 0, ok: false},
		{name: "nil", input: nil, want: 0, ok: false},
		{name: "bool", input: true, want: 0, ok: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseAmount(tc.input)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}
