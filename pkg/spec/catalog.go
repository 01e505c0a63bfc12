package spec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedArchitecture is reported when a requested model type has no
// known specification mapping. It fires at dispatch time, before any
// resolution work begins.
var ErrUnsupportedArchitecture = errors.New("unsupported architecture")

// UnsupportedArchitectureError carries the offending model type name.
type UnsupportedArchitectureError struct {
	ModelType string
}

func (e *UnsupportedArchitectureError) Error() string {
	return fmt.Sprintf("unsupported architecture %q", e.ModelType)
}

func (e *UnsupportedArchitectureError) Is(target error) bool {
	return target == ErrUnsupportedArchitecture
}

// catalogEntry describes a known training-framework model type. Layer counts
// are discovered from the checkpoint, so a template only fixes the head count
// and the relative-position flag.
type catalogEntry struct {
	numHeads int
	relative bool
}

var catalog = map[string]catalogEntry{
	"transformer":            {numHeads: 8},
	"transformerbase":        {numHeads: 8},
	"transformerbig":         {numHeads: 16},
	"transformerrelative":    {numHeads: 8, relative: true},
	"transformerbigrelative": {numHeads: 16, relative: true},

	// Shared-embeddings variants differ only in training-time weight
	// sharing; resolution handles that through fallback chains.
	"transformerbasesharedembeddings": {numHeads: 8},
	"transformerbigsharedembeddings":  {numHeads: 16},
}

// FromModelType returns an empty specification template for a model type name
// as used by the upstream training framework. Matching is case-insensitive.
func FromModelType(modelType string) (*ModelSpec, error) {
	key := strings.ToLower(strings.TrimSpace(modelType))
	entry, ok := catalog[key]
	if !ok {
		return nil, &UnsupportedArchitectureError{ModelType: modelType}
	}
	m := NewTransformerSpec(entry.numHeads, entry.relative)
	m.ModelType = modelType
	return m, nil
}

// ModelTypes lists the supported model type names.
func ModelTypes() []string {
	return []string{
		"Transformer",
		"TransformerBase",
		"TransformerBaseSharedEmbeddings",
		"TransformerBig",
		"TransformerBigRelative",
		"TransformerBigSharedEmbeddings",
		"TransformerRelative",
	}
}
