package spec

import "github.com/samcharles93/transpack/pkg/tensor"

// Linear entry arity is an engine contract: self-attention blocks carry the
// fused query+key+value projection and the output projection; cross-attention
// blocks carry the query projection, the fused key+value projection and the
// output projection.
const (
	selfAttentionLinearCount  = 2
	crossAttentionLinearCount = 3
)

// AttentionSpec describes a multi-head attention block.
type AttentionSpec struct {
	LayerNorm LayerNormSpec
	Linear    []LinearSpec

	// Relative position representations, present only when the model uses
	// relative position encoding.
	RelativePositionKeys   *tensor.Dense
	RelativePositionValues *tensor.Dense
}

// NewSelfAttentionSpec returns an attention block shaped for self-attention:
// entry 0 is the fused QKV projection, entry 1 the output projection.
func NewSelfAttentionSpec() AttentionSpec {
	return AttentionSpec{Linear: make([]LinearSpec, selfAttentionLinearCount)}
}

// NewCrossAttentionSpec returns an attention block shaped for cross-attention:
// entry 0 is the query projection, entry 1 the fused KV projection, entry 2
// the output projection.
func NewCrossAttentionSpec() AttentionSpec {
	return AttentionSpec{Linear: make([]LinearSpec, crossAttentionLinearCount)}
}

// FeedForwardSpec describes a position-wise feed-forward block.
type FeedForwardSpec struct {
	LayerNorm LayerNormSpec
	LinearIn  LinearSpec
	LinearOut LinearSpec
}

// EncoderLayerSpec is one transformer encoder block.
type EncoderLayerSpec struct {
	SelfAttention AttentionSpec
	FFN           FeedForwardSpec
}

// NewEncoderLayerSpec returns an empty encoder block with the attention
// arity pre-shaped.
func NewEncoderLayerSpec() *EncoderLayerSpec {
	return &EncoderLayerSpec{SelfAttention: NewSelfAttentionSpec()}
}

// DecoderLayerSpec is one transformer decoder block.
type DecoderLayerSpec struct {
	SelfAttention  AttentionSpec
	CrossAttention AttentionSpec
	FFN            FeedForwardSpec
}

// NewDecoderLayerSpec returns an empty decoder block with both attention
// arities pre-shaped.
func NewDecoderLayerSpec() *DecoderLayerSpec {
	return &DecoderLayerSpec{
		SelfAttention:  NewSelfAttentionSpec(),
		CrossAttention: NewCrossAttentionSpec(),
	}
}

// EncoderSpec is the encoder stack. Layers is populated in checkpoint order;
// its length is discovered from the checkpoint, not configured.
type EncoderSpec struct {
	Embeddings EmbeddingsSpec
	LayerNorm  LayerNormSpec
	Layers     []*EncoderLayerSpec
}

// DecoderSpec is the decoder stack plus the output projection over the target
// vocabulary.
type DecoderSpec struct {
	Embeddings EmbeddingsSpec
	LayerNorm  LayerNormSpec
	Layers     []*DecoderLayerSpec
	Projection LinearSpec
}

// Vocabulary is an ordered token list registered under a role name
// (for example "source" or "target").
type Vocabulary struct {
	Name   string
	Tokens []string
}

// ModelSpec is the root of the specification tree. It is created as an empty
// template (see FromModelType), populated in one pass over a checkpoint, and
// treated as immutable once the conversion returns it.
type ModelSpec struct {
	ModelType string

	Encoder EncoderSpec
	Decoder DecoderSpec

	NumHeads             int
	WithRelativePosition bool

	vocabularies []Vocabulary
}

// NewTransformerSpec returns an empty transformer template.
func NewTransformerSpec(numHeads int, withRelativePosition bool) *ModelSpec {
	return &ModelSpec{
		NumHeads:             numHeads,
		WithRelativePosition: withRelativePosition,
	}
}

// RegisterVocabulary records an ordered token list under the given name,
// replacing any previous registration with that name.
func (m *ModelSpec) RegisterVocabulary(name string, tokens []string) {
	for i := range m.vocabularies {
		if m.vocabularies[i].Name == name {
			m.vocabularies[i].Tokens = tokens
			return
		}
	}
	m.vocabularies = append(m.vocabularies, Vocabulary{Name: name, Tokens: tokens})
}

// Vocabularies returns all registered vocabularies in registration order.
func (m *ModelSpec) Vocabularies() []Vocabulary { return m.vocabularies }

// Vocabulary returns the token list registered under name.
func (m *ModelSpec) Vocabulary(name string) ([]string, bool) {
	for _, v := range m.vocabularies {
		if v.Name == name {
			return v.Tokens, true
		}
	}
	return nil, false
}
