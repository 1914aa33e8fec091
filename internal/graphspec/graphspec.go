// Package graphspec loads a static computation graph from HCL files and
// replays it against a Scheduler in one pass, the declarative counterpart to
// building a graph one Scheduler.Create call at a time from client code.
// Node names are addressed as "op.output" or "op.output[index]" (see
// address.go) so a graph file can wire one op's result into another's
// inputs by name instead of by NodeID.
package graphspec

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/tensorsched/internal/ctxlog"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/fsutil"
	"github.com/vk/tensorsched/internal/handle"
	"github.com/vk/tensorsched/internal/placement"
	"github.com/vk/tensorsched/internal/registry"
	"github.com/vk/tensorsched/internal/scheduler"
	"github.com/vk/tensorsched/internal/tensorshape"
)

// OpDecl is one `op` block: a single Scheduler.Create call, with its
// parameters named instead of passed as handles.
type OpDecl struct {
	Name          string
	Fn            string
	DeviceMemType string
	DeviceIndex   int
	Inputs        []string
	Outputs       []string
	OutputShapes  [][]int64
}

// GraphSpec is the format-agnostic result of loading one or more graph
// files. Ops are replayed in declaration order, so an op may only name an
// earlier op's output as an input — forward references are a load error.
type GraphSpec struct {
	Ops []OpDecl
}

type fileSchema struct {
	Ops  []*hclOp `hcl:"op,block"`
	Body hcl.Body `hcl:",remain"`
}

// hclOp mirrors a graph file block shaped like:
//
//	op "conv1" "matmul" {
//	  device_memtype = "cpu"
//	  device_index   = 0
//	  inputs         = ["input.x", "init.weights"]
//	  outputs        = ["y"]
//	  output_shapes  = [[4, 4]]
//	}
type hclOp struct {
	Name          string    `hcl:"name,label"`
	Fn            string    `hcl:"fn,label"`
	DeviceMemType string    `hcl:"device_memtype,optional"`
	DeviceIndex   int       `hcl:"device_index,optional"`
	Inputs        []string  `hcl:"inputs,optional"`
	Outputs       []string  `hcl:"outputs"`
	OutputShapes  [][]int64 `hcl:"output_shapes"`
}

// Load parses every *.hcl file found recursively under each of paths and
// concatenates their op declarations, file order then in-file order.
func Load(ctx context.Context, paths ...string) (*GraphSpec, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFilesByExtension(p, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("graphspec: walk %s: %w", p, err)
		}
		files = append(files, found...)
	}

	parser := hclparse.NewParser()
	spec := &GraphSpec{}

	for _, path := range files {
		f, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("graphspec: parse %s: %w", path, diags)
		}

		var schema fileSchema
		if diags := gohcl.DecodeBody(f.Body, nil, &schema); diags.HasErrors() {
			return nil, fmt.Errorf("graphspec: decode %s: %w", path, diags)
		}

		for _, o := range schema.Ops {
			if len(o.Outputs) != len(o.OutputShapes) {
				return nil, fmt.Errorf("graphspec: op %q: %d outputs but %d output_shapes", o.Name, len(o.Outputs), len(o.OutputShapes))
			}
			if err := validateOpName(o.Name); err != nil {
				return nil, fmt.Errorf("graphspec: op %q: invalid name: %w", o.Name, err)
			}
			spec.Ops = append(spec.Ops, OpDecl{
				Name:          o.Name,
				Fn:            o.Fn,
				DeviceMemType: o.DeviceMemType,
				DeviceIndex:   o.DeviceIndex,
				Inputs:        o.Inputs,
				Outputs:       o.Outputs,
				OutputShapes:  o.OutputShapes,
			})
		}
		logger.Debug("graphspec: loaded graph file", "file", path, "ops", len(schema.Ops))
	}

	return spec, nil
}

func parseMemType(s string) (deviceid.MemType, error) {
	switch s {
	case "", "cpu":
		return deviceid.MemCPU, nil
	case "gpu":
		return deviceid.MemGPU, nil
	default:
		return 0, fmt.Errorf("graphspec: unknown device_memtype %q", s)
	}
}

// Build replays spec against sched, resolving each op's fn through reg and
// each named input against the outputs produced earlier in the same Build
// call. It returns every output handle, keyed by its canonical
// "op.output" address.
func Build(ctx context.Context, sched *scheduler.Scheduler, reg *registry.Registry, spec *GraphSpec) (map[string]*handle.Handle, error) {
	outputs := make(map[string]*handle.Handle)

	for _, op := range spec.Ops {
		fn, ok := reg.ResolveFn(op.Fn)
		if !ok {
			return nil, fmt.Errorf("graphspec: op %q: unknown fn %q", op.Name, op.Fn)
		}

		params := make([]*handle.Handle, len(op.Inputs))
		for i, in := range op.Inputs {
			addr, err := parseAddress(in)
			if err != nil {
				return nil, fmt.Errorf("graphspec: op %q: input %d: %w", op.Name, i, err)
			}
			h, ok := outputs[addr.String()]
			if !ok {
				return nil, fmt.Errorf("graphspec: op %q: input %q: unknown or forward-referenced output", op.Name, in)
			}
			params[i] = h
		}

		memType, err := parseMemType(op.DeviceMemType)
		if err != nil {
			return nil, fmt.Errorf("graphspec: op %q: %w", op.Name, err)
		}
		hint := placement.Hint{Device: deviceid.Device{MemType: memType, Index: op.DeviceIndex}}

		resultSizes := make([]tensorshape.Shape, len(op.OutputShapes))
		for i, dims := range op.OutputShapes {
			resultSizes[i] = tensorshape.Shape(dims)
		}

		handles, err := sched.Create(ctx, params, resultSizes, fn, hint)
		if err != nil {
			return nil, fmt.Errorf("graphspec: op %q: create: %w", op.Name, err)
		}

		for i, outName := range op.Outputs {
			addr, err := parseAddress(op.Name + "." + outName)
			if err != nil {
				return nil, fmt.Errorf("graphspec: op %q: output %q: %w", op.Name, outName, err)
			}
			outputs[addr.String()] = handles[i]
		}
	}

	return outputs, nil
}
