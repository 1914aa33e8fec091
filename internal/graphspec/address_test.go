package graphspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expectErr bool
		want      opAddress
	}{
		{
			name: "plain output",
			raw:  "conv1.weights",
			want: opAddress{Op: "conv1", Output: "weights", Index: -1},
		},
		{
			name: "indexed output",
			raw:  "layer2.grad[3]",
			want: opAddress{Op: "layer2", Output: "grad", Index: 3},
		},
		{
			name:      "error - op segment cannot itself be indexed",
			raw:       "conv1[0].weights",
			expectErr: true,
		},
		{
			name:      "error - too few segments",
			raw:       "conv1",
			expectErr: true,
		},
		{
			name:      "error - too many segments, outputs don't nest",
			raw:       "conv1.weights.grad",
			expectErr: true,
		},
		{
			name:      "error - empty op segment",
			raw:       ".out",
			expectErr: true,
		},
		{
			name:      "error - empty output segment",
			raw:       "conv1.",
			expectErr: true,
		},
		{
			name:      "error - empty string",
			raw:       "",
			expectErr: true,
		},
		{
			name:      "error - malformed index",
			raw:       "conv1.weights[x]",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := parseAddress(tc.raw)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, addr)
		})
	}
}

func TestOpAddress_String(t *testing.T) {
	assert.Equal(t, "conv1.weights", opAddress{Op: "conv1", Output: "weights", Index: -1}.String())
	assert.Equal(t, "layer2.grad[3]", opAddress{Op: "layer2", Output: "grad", Index: 3}.String())
}

func TestParseAddress_RoundTrip(t *testing.T) {
	for _, raw := range []string{"conv1.weights", "layer-norm.scale[0]", "model.out[15]"} {
		t.Run(raw, func(t *testing.T) {
			addr, err := parseAddress(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, addr.String())
		})
	}
}

func TestValidateOpName(t *testing.T) {
	assert.NoError(t, validateOpName("conv1"))
	assert.NoError(t, validateOpName("layer-norm"))
	assert.Error(t, validateOpName(""))
	assert.Error(t, validateOpName("conv1.weights"), "op names never carry a dot; that would be an address, not a name")
	assert.Error(t, validateOpName("conv1[0]"), "op names are never indexed")
}
