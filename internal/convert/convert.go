// Package convert translates trained checkpoints into the typed
// specification tree an inference engine consumes. One conversion is one
// pass: every required tensor is resolved by exact name (with fixed
// fallback chains), normalized to engine layout, and placed in the tree;
// the first unresolvable tensor aborts the run.
package convert

import (
	"fmt"

	"github.com/samcharles93/transpack/internal/checkpoint"
	"github.com/samcharles93/transpack/internal/logger"
	"github.com/samcharles93/transpack/internal/vocab"
	"github.com/samcharles93/transpack/pkg/spec"
)

// LoadFunc loads a checkpoint from a path. It exists so tests can feed
// in-memory checkpoints through the same code path as on-disk ones.
type LoadFunc func(path string) (checkpoint.Generation, *checkpoint.Store, error)

// Options configures a Converter. Exactly one of ModelPath and Variables
// must be set.
type Options struct {
	// Spec is the empty template to populate, usually from
	// spec.FromModelType.
	Spec *spec.ModelSpec

	// SourceVocabulary and TargetVocabulary provide the token lists
	// registered on the converted model.
	SourceVocabulary vocab.Source
	TargetVocabulary vocab.Source

	// ModelPath points at a snapshot file or checkpoint directory.
	ModelPath string

	// Variables is an already-loaded checkpoint, assumed to follow the
	// current naming convention. Names may carry the attribute-value
	// suffix; it is stripped before resolution.
	Variables checkpoint.Variables

	// Loader overrides how ModelPath is read. Defaults to checkpoint.Load.
	Loader LoadFunc

	// Logger defaults to the process-wide default logger.
	Logger logger.Logger
}

// Converter performs checkpoint-to-spec conversions.
type Converter struct {
	opts Options
}

// New validates the options and returns a Converter.
func New(opts Options) (*Converter, error) {
	if opts.Spec == nil {
		return nil, fmt.Errorf("%w: no model template", ErrConfig)
	}
	if opts.ModelPath == "" && opts.Variables == nil {
		return nil, fmt.Errorf("%w: set a model path or provide variables", ErrConfig)
	}
	if opts.ModelPath != "" && opts.Variables != nil {
		return nil, fmt.Errorf("%w: model path and variables are mutually exclusive", ErrConfig)
	}
	if opts.Loader == nil {
		opts.Loader = checkpoint.Load
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	return &Converter{opts: opts}, nil
}

// Convert runs the conversion and returns the populated specification
// tree. The input store is never mutated; re-running a conversion on the
// same checkpoint yields a bit-identical tree.
func (c *Converter) Convert() (*spec.ModelSpec, error) {
	generation, store, err := c.load()
	if err != nil {
		return nil, err
	}

	m := c.opts.Spec
	b := &builder{store: store, log: c.opts.Logger}
	switch generation {
	case checkpoint.GenerationV1:
		err = b.populateV1(m)
	case checkpoint.GenerationV2:
		err = b.populateV2(m)
	default:
		err = fmt.Errorf("%w: unknown checkpoint generation %d", checkpoint.ErrUnsupportedFormat, generation)
	}
	if err != nil {
		return nil, err
	}

	if err := c.registerVocabulary(m, "source", c.opts.SourceVocabulary); err != nil {
		return nil, err
	}
	if err := c.registerVocabulary(m, "target", c.opts.TargetVocabulary); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	c.opts.Logger.Info("converted checkpoint",
		"generation", int(generation),
		"encoder_layers", len(m.Encoder.Layers),
		"decoder_layers", len(m.Decoder.Layers),
		"heads", m.NumHeads,
		"relative_position", m.WithRelativePosition,
	)
	return m, nil
}

func (c *Converter) load() (checkpoint.Generation, *checkpoint.Store, error) {
	if c.opts.Variables != nil {
		vars, _ := checkpoint.StripAttributeSuffix(c.opts.Variables)
		return checkpoint.GenerationV2, checkpoint.NewStore(vars), nil
	}
	return c.opts.Loader(c.opts.ModelPath)
}

func (c *Converter) registerVocabulary(m *spec.ModelSpec, name string, src vocab.Source) error {
	if src == nil {
		return fmt.Errorf("%w: no %s vocabulary", ErrConfig, name)
	}
	tokens, err := vocab.Load(src)
	if err != nil {
		return fmt.Errorf("load %s vocabulary: %w", name, err)
	}
	m.RegisterVocabulary(name, tokens)
	return nil
}
