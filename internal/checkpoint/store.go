// Package checkpoint loads trained-model checkpoints: flat namespaces of
// named numeric tensors, exported one snapshot per safetensors file. It
// detects which naming-convention generation produced a checkpoint and
// presents the variables as an immutable store.
package checkpoint

import (
	"sort"
	"strings"

	"github.com/samcharles93/transpack/pkg/tensor"
)

// Generation identifies the checkpoint naming/layout convention.
type Generation int

const (
	// GenerationV1 is the legacy convention ("transformer/..." scopes,
	// 1x1-convolution kernels for projections).
	GenerationV1 Generation = 1
	// GenerationV2 is the current convention ("model/..." scopes, split
	// attention projections, attribute-value variable suffixes).
	GenerationV2 Generation = 2
)

// AttributeSuffix is the generation-2 marker appended to variable names by
// the upstream training framework's object-based checkpointing.
const AttributeSuffix = "/.ATTRIBUTES/VARIABLE_VALUE"

// Variables maps fully-qualified tensor names to their values.
type Variables map[string]*tensor.Dense

// Store is an immutable name-to-tensor mapping. Lookups are exact; the
// converter never infers names by fuzzy matching.
type Store struct {
	vars Variables
}

// NewStore copies the mapping into a new store. The tensors themselves are
// shared with the caller; the converter clones what it extracts.
func NewStore(vars Variables) *Store {
	m := make(Variables, len(vars))
	for name, t := range vars {
		m[name] = t
	}
	return &Store{vars: m}
}

// Lookup returns the tensor stored under the exact name.
func (s *Store) Lookup(name string) (*tensor.Dense, bool) {
	t, ok := s.vars[name]
	return t, ok
}

// Has reports whether a tensor is stored under the exact name.
func (s *Store) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// Names returns all variable names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored variables.
func (s *Store) Len() int { return len(s.vars) }

// StripAttributeSuffix removes the generation-2 attribute-value marker from
// every variable name. It reports whether any name carried the marker.
func StripAttributeSuffix(vars Variables) (Variables, bool) {
	stripped := false
	out := make(Variables, len(vars))
	for name, t := range vars {
		if cut, ok := strings.CutSuffix(name, AttributeSuffix); ok {
			stripped = true
			name = cut
		}
		out[name] = t
	}
	return out, stripped
}
