package convert

import (
	"errors"
	"fmt"

	"github.com/samcharles93/transpack/internal/checkpoint"
	"github.com/samcharles93/transpack/pkg/spec"
)

const (
	v1EncoderScope = "transformer/encoder"
	v1DecoderScope = "transformer/decoder"

	// Shared-embeddings models store one table under their own scope; the
	// per-side lookup falls back to it.
	v1SharedEmbeddings = "transformer/shared_embeddings/w_embs"
)

// populateV1 fills the tree from a first-generation checkpoint, where
// attention projections are stored pre-fused as conv1d kernels.
func (b *builder) populateV1(m *spec.ModelSpec) error {
	if m.WithRelativePosition {
		return fmt.Errorf("%w: relative position representations are not stored in first-generation checkpoints", checkpoint.ErrUnsupportedFormat)
	}
	if err := b.setEncoderV1(&m.Encoder); err != nil {
		return err
	}
	return b.setDecoderV1(&m.Decoder)
}

func (b *builder) setEncoderV1(enc *spec.EncoderSpec) error {
	if _, err := b.setEmbeddings(&enc.Embeddings, v1EncoderScope+"/w_embs", v1SharedEmbeddings); err != nil {
		return err
	}
	if err := b.setLayerNorm(&enc.LayerNorm, v1EncoderScope+"/LayerNorm"); err != nil {
		return err
	}
	for i := 0; b.hasLayerV1(v1EncoderScope, i); i++ {
		layer := spec.NewEncoderLayerSpec()
		scope := fmt.Sprintf("%s/layer_%d", v1EncoderScope, i)
		if err := b.setSelfAttentionV1(&layer.SelfAttention, scope+"/multi_head"); err != nil {
			return err
		}
		if err := b.setFeedForwardV1(&layer.FFN, scope+"/ffn"); err != nil {
			return err
		}
		enc.Layers = append(enc.Layers, layer)
	}
	return nil
}

func (b *builder) setDecoderV1(dec *spec.DecoderSpec) error {
	embedding, err := b.setEmbeddings(&dec.Embeddings, v1DecoderScope+"/w_embs", v1SharedEmbeddings)
	if err != nil {
		return err
	}
	if err := b.setLayerNorm(&dec.LayerNorm, v1DecoderScope+"/LayerNorm"); err != nil {
		return err
	}
	if err := b.setLinear(&dec.Projection, v1DecoderScope+"/dense"); err != nil {
		if !errors.Is(err, ErrMissingVariable) {
			return err
		}
		// No output projection in the checkpoint: the model ties it to
		// the target embedding table, which is already [vocabulary,
		// depth] and therefore usable without a transpose.
		b.log.Debug("tying output projection to target embeddings", "embedding", embedding.name)
		dec.Projection.Weight = embedding.value
	}
	for i := 0; b.hasLayerV1(v1DecoderScope, i); i++ {
		layer := spec.NewDecoderLayerSpec()
		scope := fmt.Sprintf("%s/layer_%d", v1DecoderScope, i)
		if err := b.setSelfAttentionV1(&layer.SelfAttention, scope+"/masked_multi_head"); err != nil {
			return err
		}
		if err := b.setCrossAttentionV1(&layer.CrossAttention, scope+"/multi_head"); err != nil {
			return err
		}
		if err := b.setFeedForwardV1(&layer.FFN, scope+"/ffn"); err != nil {
			return err
		}
		dec.Layers = append(dec.Layers, layer)
	}
	return nil
}

// hasLayerV1 probes for layer i by its feed-forward norm weights, which
// every first-generation layer carries. Layers are contiguous from zero;
// the first gap ends the stack.
func (b *builder) hasLayerV1(scope string, i int) bool {
	return b.store.Has(fmt.Sprintf("%s/layer_%d/ffn/LayerNorm/gamma", scope, i))
}

// Self-attention stores the fused query-key-value projection as conv1d and
// the output projection as conv1d_1.
func (b *builder) setSelfAttentionV1(att *spec.AttentionSpec, scope string) error {
	if err := b.setLayerNorm(&att.LayerNorm, scope+"/LayerNorm"); err != nil {
		return err
	}
	if err := b.setLinear(&att.Linear[0], scope+"/conv1d"); err != nil {
		return err
	}
	return b.setLinear(&att.Linear[1], scope+"/conv1d_1")
}

// Cross-attention stores the query projection as conv1d, the fused
// key-value projection as conv1d_1 and the output projection as conv1d_2.
func (b *builder) setCrossAttentionV1(att *spec.AttentionSpec, scope string) error {
	if err := b.setLayerNorm(&att.LayerNorm, scope+"/LayerNorm"); err != nil {
		return err
	}
	for j := range att.Linear {
		name := scope + "/conv1d"
		if j > 0 {
			name = fmt.Sprintf("%s/conv1d_%d", scope, j)
		}
		if err := b.setLinear(&att.Linear[j], name); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) setFeedForwardV1(ffn *spec.FeedForwardSpec, scope string) error {
	if err := b.setLayerNorm(&ffn.LayerNorm, scope+"/LayerNorm"); err != nil {
		return err
	}
	if err := b.setLinear(&ffn.LinearIn, scope+"/conv1d"); err != nil {
		return err
	}
	return b.setLinear(&ffn.LinearOut, scope+"/conv1d_1")
}
