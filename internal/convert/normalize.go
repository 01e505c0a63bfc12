package convert

import (
	"fmt"

	"github.com/samcharles93/transpack/pkg/spec"
)

// setLinear resolves the kernel under scope, squeezes away singleton
// dimensions left by convolutional storage, and transposes to [output,
// input] row-major layout. A bias under the same scope is attached when
// present and silently skipped otherwise.
func (b *builder) setLinear(dst *spec.LinearSpec, scope string) error {
	kernel, err := b.resolve(scope + "/kernel")
	if err != nil {
		return err
	}
	w, err := kernel.value.Squeeze().Transpose2D()
	if err != nil {
		return fmt.Errorf("%s: %w", kernel.name, err)
	}
	dst.Weight = w
	if bias, ok := b.store.Lookup(scope + "/bias"); ok {
		dst.Bias = bias.Clone()
	}
	return nil
}

// setLayerNorm resolves gamma and beta under scope. Both are required:
// a norm with a missing half is a malformed checkpoint, not an optional
// feature.
func (b *builder) setLayerNorm(dst *spec.LayerNormSpec, scope string) error {
	gamma, err := b.resolve(scope + "/gamma")
	if err != nil {
		return err
	}
	beta, err := b.resolve(scope + "/beta")
	if err != nil {
		return err
	}
	dst.Gamma = gamma.value
	dst.Beta = beta.value
	return nil
}

// setEmbeddings resolves the embedding table from the candidate chain and
// stores it as-is, [vocabulary, depth]. Embedding scaling by sqrt(depth) is
// always on for these models. Returns the resolution so callers can reuse
// the table for weight tying.
func (b *builder) setEmbeddings(dst *spec.EmbeddingsSpec, candidates ...string) (resolved, error) {
	r, err := b.resolve(candidates...)
	if err != nil {
		return resolved{}, err
	}
	dst.Weight = r.value
	dst.ScaleBySqrtDepth = true
	return r, nil
}
