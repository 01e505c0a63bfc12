package spec

import "fmt"

// Validate checks that the tree is fully populated and internally consistent:
// every required tensor present, attention arity respected, weights 2-D in
// [output_dim, input_dim] orientation relative to their layer norms, and
// relative-position tensors present exactly when the model requests them.
func (m *ModelSpec) Validate() error {
	if m.Encoder.Embeddings.Weight == nil {
		return fmt.Errorf("spec: encoder embeddings not populated")
	}
	if m.Decoder.Embeddings.Weight == nil {
		return fmt.Errorf("spec: decoder embeddings not populated")
	}
	if err := validateLayerNorm("encoder/layer_norm", &m.Encoder.LayerNorm); err != nil {
		return err
	}
	if err := validateLayerNorm("decoder/layer_norm", &m.Decoder.LayerNorm); err != nil {
		return err
	}
	if len(m.Encoder.Layers) == 0 {
		return fmt.Errorf("spec: encoder has no layers")
	}
	if len(m.Decoder.Layers) == 0 {
		return fmt.Errorf("spec: decoder has no layers")
	}
	for i, layer := range m.Encoder.Layers {
		scope := fmt.Sprintf("encoder/layer_%d", i)
		if err := validateAttention(scope+"/self_attention", &layer.SelfAttention, selfAttentionLinearCount, m.WithRelativePosition); err != nil {
			return err
		}
		if err := validateFFN(scope+"/ffn", &layer.FFN); err != nil {
			return err
		}
	}
	for i, layer := range m.Decoder.Layers {
		scope := fmt.Sprintf("decoder/layer_%d", i)
		if err := validateAttention(scope+"/self_attention", &layer.SelfAttention, selfAttentionLinearCount, m.WithRelativePosition); err != nil {
			return err
		}
		if err := validateAttention(scope+"/cross_attention", &layer.CrossAttention, crossAttentionLinearCount, false); err != nil {
			return err
		}
		if err := validateFFN(scope+"/ffn", &layer.FFN); err != nil {
			return err
		}
	}
	if m.Decoder.Projection.Weight == nil {
		return fmt.Errorf("spec: decoder projection not populated")
	}
	return nil
}

func validateLayerNorm(scope string, n *LayerNormSpec) error {
	if n.Gamma == nil || n.Beta == nil {
		return fmt.Errorf("spec: %s not populated", scope)
	}
	if n.Gamma.Rank() != 1 || n.Beta.Rank() != 1 {
		return fmt.Errorf("spec: %s tensors must be 1D", scope)
	}
	return nil
}

func validateLinear(scope string, l *LinearSpec) error {
	if l.Weight == nil {
		return fmt.Errorf("spec: %s not populated", scope)
	}
	if l.Weight.Rank() != 2 {
		return fmt.Errorf("spec: %s weight has shape %v, want rank 2", scope, l.Weight.Shape())
	}
	if l.Bias != nil && l.Bias.Len() != l.Weight.Dim(0) {
		return fmt.Errorf("spec: %s bias length %d does not match output dim %d",
			scope, l.Bias.Len(), l.Weight.Dim(0))
	}
	return nil
}

func validateAttention(scope string, a *AttentionSpec, arity int, relative bool) error {
	if len(a.Linear) != arity {
		return fmt.Errorf("spec: %s has %d projections, want %d", scope, len(a.Linear), arity)
	}
	if err := validateLayerNorm(scope+"/layer_norm", &a.LayerNorm); err != nil {
		return err
	}
	for i := range a.Linear {
		if err := validateLinear(fmt.Sprintf("%s/linear_%d", scope, i), &a.Linear[i]); err != nil {
			return err
		}
	}
	if relative {
		if a.RelativePositionKeys == nil || a.RelativePositionValues == nil {
			return fmt.Errorf("spec: %s missing relative position tensors", scope)
		}
	}
	return nil
}

func validateFFN(scope string, f *FeedForwardSpec) error {
	if err := validateLayerNorm(scope+"/layer_norm", &f.LayerNorm); err != nil {
		return err
	}
	if err := validateLinear(scope+"/linear_in", &f.LinearIn); err != nil {
		return err
	}
	return validateLinear(scope+"/linear_out", &f.LinearOut)
}
