package compute

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	name := fmt.Sprintf("test-fn-%p", t)
	fn := Fn{
		Name: name,
		Call: func(ctx context.Context, in, out [][]float32) error { return nil },
	}
	Register(fn)

	got, ok := Lookup(name)
	require.True(t, ok)
	assert.Equal(t, name, got.Name)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	name := fmt.Sprintf("dup-fn-%p", t)
	fn := Fn{Name: name, Call: func(ctx context.Context, in, out [][]float32) error { return nil }}
	Register(fn)

	assert.Panics(t, func() { Register(fn) })
}

func TestLookup_Unknown(t *testing.T) {
	_, ok := Lookup("does-not-exist")
	assert.False(t, ok)
}
