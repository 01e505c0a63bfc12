package spec

import (
	"fmt"

	"github.com/samcharles93/transpack/pkg/tensor"
)

// Variable is one named tensor of the flattened specification tree, as
// consumed by the model package writer.
type Variable struct {
	Name   string
	Tensor *tensor.Dense
}

// Variables flattens the populated tree into an ordered list of named
// tensors. Names are hierarchical, joined by "/", and stable across calls.
// Optional tensors that were never populated are omitted.
func (m *ModelSpec) Variables() []Variable {
	var out []Variable
	add := func(name string, t *tensor.Dense) {
		if t != nil {
			out = append(out, Variable{Name: name, Tensor: t})
		}
	}
	addLinear := func(scope string, l *LinearSpec) {
		add(scope+"/weight", l.Weight)
		add(scope+"/bias", l.Bias)
	}
	addLayerNorm := func(scope string, n *LayerNormSpec) {
		add(scope+"/gamma", n.Gamma)
		add(scope+"/beta", n.Beta)
	}
	addAttention := func(scope string, a *AttentionSpec) {
		addLayerNorm(scope+"/layer_norm", &a.LayerNorm)
		for i := range a.Linear {
			addLinear(fmt.Sprintf("%s/linear_%d", scope, i), &a.Linear[i])
		}
		add(scope+"/relative_position_keys", a.RelativePositionKeys)
		add(scope+"/relative_position_values", a.RelativePositionValues)
	}
	addFFN := func(scope string, f *FeedForwardSpec) {
		addLayerNorm(scope+"/layer_norm", &f.LayerNorm)
		addLinear(scope+"/linear_in", &f.LinearIn)
		addLinear(scope+"/linear_out", &f.LinearOut)
	}

	add("encoder/embeddings/weight", m.Encoder.Embeddings.Weight)
	addLayerNorm("encoder/layer_norm", &m.Encoder.LayerNorm)
	for i, layer := range m.Encoder.Layers {
		scope := fmt.Sprintf("encoder/layer_%d", i)
		addAttention(scope+"/self_attention", &layer.SelfAttention)
		addFFN(scope+"/ffn", &layer.FFN)
	}

	add("decoder/embeddings/weight", m.Decoder.Embeddings.Weight)
	addLayerNorm("decoder/layer_norm", &m.Decoder.LayerNorm)
	for i, layer := range m.Decoder.Layers {
		scope := fmt.Sprintf("decoder/layer_%d", i)
		addAttention(scope+"/self_attention", &layer.SelfAttention)
		addAttention(scope+"/cross_attention", &layer.CrossAttention)
		addFFN(scope+"/ffn", &layer.FFN)
	}
	addLinear("decoder/projection", &m.Decoder.Projection)

	return out
}
