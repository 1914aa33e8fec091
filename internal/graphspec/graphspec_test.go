package graphspec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/devicestub"
	"github.com/vk/tensorsched/internal/registry"
	"github.com/vk/tensorsched/internal/scheduler"
)

func writeGraphFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return dir
}

func registerOnce(t *testing.T, name string, fn func(ctx context.Context, inputs, outputs [][]float32) error) {
	t.Helper()
	if _, ok := compute.Lookup(name); ok {
		return
	}
	compute.Register(compute.Fn{Name: name, Call: fn})
}

func TestLoad_ParsesChainedOps(t *testing.T) {
	registerOnce(t, "graphspec_seed", func(ctx context.Context, inputs, outputs [][]float32) error {
		for i := range outputs[0] {
			outputs[0][i] = 1
		}
		return nil
	})
	registerOnce(t, "graphspec_add", func(ctx context.Context, inputs, outputs [][]float32) error {
		for i := range outputs[0] {
			outputs[0][i] = inputs[0][i] + inputs[1][i]
		}
		return nil
	})

	dir := writeGraphFile(t, `
op "seed" "graphspec_seed" {
  outputs       = ["out"]
  output_shapes = [[2]]
}

op "doubled" "graphspec_add" {
  inputs        = ["seed.out", "seed.out"]
  outputs       = ["out"]
  output_shapes = [[2]]
}
`)

	spec, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, spec.Ops, 2)
	assert.Equal(t, "seed", spec.Ops[0].Name)
	assert.Equal(t, []string{"seed.out", "seed.out"}, spec.Ops[1].Inputs)

	dm := devicestub.New()
	defer dm.Close()
	sched := scheduler.New(dm)
	defer sched.Close(context.Background())

	reg := registry.New()

	outputs, err := Build(context.Background(), sched, reg, spec)
	require.NoError(t, err)
	require.Contains(t, outputs, "doubled.out")

	h := outputs["doubled.out"]
	require.NoError(t, sched.Wait(context.Background(), h))
	val, err := sched.GetValue(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2}, val)
}

func TestLoad_MismatchedOutputsAndShapesIsAnError(t *testing.T) {
	dir := writeGraphFile(t, `
op "bad" "whatever" {
  outputs       = ["a", "b"]
  output_shapes = [[1]]
}
`)

	_, err := Load(context.Background(), dir)
	assert.Error(t, err)
}

func TestBuild_UnknownFnIsAnError(t *testing.T) {
	dir := writeGraphFile(t, `
op "orphan" "graphspec_does_not_exist" {
  outputs       = ["out"]
  output_shapes = [[1]]
}
`)

	spec, err := Load(context.Background(), dir)
	require.NoError(t, err)

	dm := devicestub.New()
	defer dm.Close()
	sched := scheduler.New(dm)
	defer sched.Close(context.Background())

	_, err = Build(context.Background(), sched, registry.New(), spec)
	assert.Error(t, err)
}

func TestBuild_ForwardReferenceIsAnError(t *testing.T) {
	registerOnce(t, "graphspec_noop", func(ctx context.Context, inputs, outputs [][]float32) error {
		return nil
	})

	dir := writeGraphFile(t, `
op "first" "graphspec_noop" {
  inputs        = ["second.out"]
  outputs       = ["out"]
  output_shapes = [[1]]
}

op "second" "graphspec_noop" {
  outputs       = ["out"]
  output_shapes = [[1]]
}
`)

	spec, err := Load(context.Background(), dir)
	require.NoError(t, err)

	dm := devicestub.New()
	defer dm.Close()
	sched := scheduler.New(dm)
	defer sched.Close(context.Background())

	_, err = Build(context.Background(), sched, registry.New(), spec)
	assert.Error(t, err)
}
