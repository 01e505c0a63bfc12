package convert

import (
	"github.com/samcharles93/transpack/internal/checkpoint"
	"github.com/samcharles93/transpack/internal/logger"
	"github.com/samcharles93/transpack/pkg/tensor"
)

// builder populates one specification tree from one variable store. Setters
// are methods so resolution decisions can be logged against the same store.
type builder struct {
	store *checkpoint.Store
	log   logger.Logger
}

// resolved is the outcome of a successful name resolution.
type resolved struct {
	name  string
	value *tensor.Dense
}

// resolve tries candidate names in priority order against the store and
// returns the first hit, cloning the tensor so the tree never aliases the
// store. Exhausting the candidates is fatal; the error names the last-tried
// candidate. Lookups are exact, never fuzzy.
func (b *builder) resolve(candidates ...string) (resolved, error) {
	for i, name := range candidates {
		t, ok := b.store.Lookup(name)
		if !ok {
			continue
		}
		if i > 0 {
			b.log.Debug("resolved via fallback", "name", name, "primary", candidates[0])
		}
		return resolved{name: name, value: t.Clone()}, nil
	}
	return resolved{}, &MissingVariableError{Name: candidates[len(candidates)-1], Tried: candidates}
}
