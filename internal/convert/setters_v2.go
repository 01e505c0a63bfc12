package convert

import (
	"errors"
	"fmt"

	"github.com/samcharles93/transpack/pkg/spec"
)

const (
	v2EncoderScope = "model/encoder"
	v2DecoderScope = "model/decoder"

	v2SourceEmbeddings = "model/examples_inputter/features_inputter/embedding"
	v2TargetEmbeddings = "model/examples_inputter/labels_inputter/embedding"
)

// populateV2 fills the tree from a second-generation checkpoint, where
// attention projections are stored split per role and fused here.
func (b *builder) populateV2(m *spec.ModelSpec) error {
	if err := b.setEncoderV2(&m.Encoder, m.WithRelativePosition); err != nil {
		return err
	}
	return b.setDecoderV2(&m.Decoder, m.WithRelativePosition)
}

func (b *builder) setEncoderV2(enc *spec.EncoderSpec, relative bool) error {
	if _, err := b.setEmbeddings(&enc.Embeddings, v2SourceEmbeddings); err != nil {
		return err
	}
	if err := b.setLayerNorm(&enc.LayerNorm, v2EncoderScope+"/layer_norm"); err != nil {
		return err
	}
	for i := 0; b.hasLayerV2(v2EncoderScope, i); i++ {
		layer := spec.NewEncoderLayerSpec()
		scope := fmt.Sprintf("%s/layers/%d", v2EncoderScope, i)
		if err := b.setSelfAttentionV2(&layer.SelfAttention, scope+"/self_attention", relative); err != nil {
			return err
		}
		if err := b.setFeedForwardV2(&layer.FFN, scope+"/ffn"); err != nil {
			return err
		}
		enc.Layers = append(enc.Layers, layer)
	}
	return nil
}

func (b *builder) setDecoderV2(dec *spec.DecoderSpec, relative bool) error {
	// Checkpoints without a distinct target inputter share the source
	// embedding table.
	embedding, err := b.setEmbeddings(&dec.Embeddings, v2TargetEmbeddings, v2SourceEmbeddings)
	if err != nil {
		return err
	}
	if err := b.setLayerNorm(&dec.LayerNorm, v2DecoderScope+"/layer_norm"); err != nil {
		return err
	}
	if err := b.setProjectionV2(dec, embedding); err != nil {
		return err
	}
	for i := 0; b.hasLayerV2(v2DecoderScope, i); i++ {
		layer := spec.NewDecoderLayerSpec()
		scope := fmt.Sprintf("%s/layers/%d", v2DecoderScope, i)
		if err := b.setSelfAttentionV2(&layer.SelfAttention, scope+"/self_attention", relative); err != nil {
			return err
		}
		// The decoder stores its encoder-attention blocks as a list;
		// these models have exactly one per layer.
		if err := b.setCrossAttentionV2(&layer.CrossAttention, scope+"/attention/0"); err != nil {
			return err
		}
		if err := b.setFeedForwardV2(&layer.FFN, scope+"/ffn"); err != nil {
			return err
		}
		dec.Layers = append(dec.Layers, layer)
	}
	return nil
}

// setProjectionV2 loads the output projection. The kernel is kept as stored
// when it is bit-identical to the target embedding table (the model tied
// them, so the table is already [vocabulary, depth]) and transposed to
// [output, input] otherwise. A missing kernel also ties to the embeddings.
func (b *builder) setProjectionV2(dec *spec.DecoderSpec, embedding resolved) error {
	const scope = v2DecoderScope + "/output_layer"
	kernel, err := b.resolve(scope + "/kernel")
	switch {
	case errors.Is(err, ErrMissingVariable):
		b.log.Debug("tying output projection to target embeddings", "embedding", embedding.name)
		dec.Projection.Weight = embedding.value
	case err != nil:
		return err
	default:
		w := kernel.value.Squeeze()
		if w.Equal(embedding.value) {
			dec.Projection.Weight = embedding.value
		} else {
			t, err := w.Transpose2D()
			if err != nil {
				return fmt.Errorf("%s: %w", kernel.name, err)
			}
			dec.Projection.Weight = t
		}
	}
	if bias, ok := b.store.Lookup(scope + "/bias"); ok {
		dec.Projection.Bias = bias.Clone()
	}
	return nil
}

// hasLayerV2 probes for layer i by its feed-forward norm weights. Layers
// are contiguous from zero; the first gap ends the stack.
func (b *builder) hasLayerV2(scope string, i int) bool {
	return b.store.Has(fmt.Sprintf("%s/layers/%d/ffn/input_layer_norm/gamma", scope, i))
}

// Self-attention stores query, key and value projections separately; they
// are fused here in that order so the combined weight feeds a single matmul.
func (b *builder) setSelfAttentionV2(att *spec.AttentionSpec, scope string, relative bool) error {
	if err := b.setLayerNorm(&att.LayerNorm, scope+"/input_layer_norm"); err != nil {
		return err
	}
	var split [3]spec.LinearSpec
	for j, role := range []string{"linear_queries", "linear_keys", "linear_values"} {
		if err := b.setLinear(&split[j], scope+"/layer/"+role); err != nil {
			return err
		}
	}
	if err := spec.FuseLinear(&att.Linear[0], split[:]); err != nil {
		return err
	}
	if err := b.setLinear(&att.Linear[1], scope+"/layer/linear_output"); err != nil {
		return err
	}
	if relative {
		keys, err := b.resolve(scope + "/layer/relative_position_keys")
		if err != nil {
			return err
		}
		values, err := b.resolve(scope + "/layer/relative_position_values")
		if err != nil {
			return err
		}
		att.RelativePositionKeys = keys.value
		att.RelativePositionValues = values.value
	}
	return nil
}

// Cross-attention keeps the query projection on its own and fuses key and
// value, whose inputs come from the encoder memory.
func (b *builder) setCrossAttentionV2(att *spec.AttentionSpec, scope string) error {
	if err := b.setLayerNorm(&att.LayerNorm, scope+"/input_layer_norm"); err != nil {
		return err
	}
	if err := b.setLinear(&att.Linear[0], scope+"/layer/linear_queries"); err != nil {
		return err
	}
	var split [2]spec.LinearSpec
	for j, role := range []string{"linear_keys", "linear_values"} {
		if err := b.setLinear(&split[j], scope+"/layer/"+role); err != nil {
			return err
		}
	}
	if err := spec.FuseLinear(&att.Linear[1], split[:]); err != nil {
		return err
	}
	return b.setLinear(&att.Linear[2], scope+"/layer/linear_output")
}

func (b *builder) setFeedForwardV2(ffn *spec.FeedForwardSpec, scope string) error {
	if err := b.setLayerNorm(&ffn.LayerNorm, scope+"/input_layer_norm"); err != nil {
		return err
	}
	if err := b.setLinear(&ffn.LinearIn, scope+"/layer/inner"); err != nil {
		return err
	}
	return b.setLinear(&ffn.LinearOut, scope+"/layer/outer")
}
