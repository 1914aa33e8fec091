// Package hclmanifest parses the HCL device-pool manifests that describe
// which devices a tensorsched deployment exposes. It is the format-specific
// half of the registry split, grounded on the teacher's internal/registry +
// internal/hcl/internal/config split: hclmanifest.Load parses *.hcl files
// into format-agnostic DeviceDecl values; internal/registry holds them
// alongside the process-wide compute.Fn registry.
package hclmanifest

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/tensorsched/internal/ctxlog"
	"github.com/vk/tensorsched/internal/fsutil"
)

// DeviceDecl is one `device` block: a named pool of devices of a given
// memory type, optionally backed by a remote device server.
type DeviceDecl struct {
	MemType  string
	Index    string
	PoolSize int
	Endpoint string
}

// Manifest is the format-agnostic result of loading one or more HCL files.
type Manifest struct {
	Devices []DeviceDecl
}

type fileSchema struct {
	Devices []*hclDevice `hcl:"device,block"`
	Body    hcl.Body     `hcl:",remain"`
}

// hclDevice mirrors a manifest block shaped like:
//
//	device "gpu" "0" {
//	  pool_size = 4
//	  endpoint  = "https://device-server:9000/devices"
//	}
type hclDevice struct {
	MemType  string  `hcl:"memtype,label"`
	Index    string  `hcl:"index,label"`
	PoolSize int     `hcl:"pool_size,optional"`
	Endpoint *string `hcl:"endpoint,optional"`
}

// Load parses every *.hcl file found recursively under each of paths and
// merges their device declarations into a single Manifest. A malformed file
// or duplicate device label pair is a fatal configuration error.
func Load(ctx context.Context, paths ...string) (*Manifest, error) {
	logger := ctxlog.FromContext(ctx)

	var files []string
	for _, p := range paths {
		found, err := fsutil.FindFilesByExtension(p, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("hclmanifest: walk %s: %w", p, err)
		}
		files = append(files, found...)
	}
	logger.Debug("hclmanifest: found device manifest files", "count", len(files))

	parser := hclparse.NewParser()
	m := &Manifest{}
	seen := make(map[string]struct{})

	for _, path := range files {
		f, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("hclmanifest: parse %s: %w", path, diags)
		}

		var schema fileSchema
		if diags := gohcl.DecodeBody(f.Body, nil, &schema); diags.HasErrors() {
			return nil, fmt.Errorf("hclmanifest: decode %s: %w", path, diags)
		}

		for _, d := range schema.Devices {
			key := d.MemType + ":" + d.Index
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("hclmanifest: device %q declared more than once", key)
			}
			seen[key] = struct{}{}

			decl := DeviceDecl{MemType: d.MemType, Index: d.Index, PoolSize: d.PoolSize}
			if d.Endpoint != nil {
				decl.Endpoint = *d.Endpoint
			}
			if decl.PoolSize == 0 {
				decl.PoolSize = 1
			}
			m.Devices = append(m.Devices, decl)
		}
		logger.Debug("hclmanifest: loaded device manifest", "file", path, "devices", len(schema.Devices))
	}

	return m, nil
}
