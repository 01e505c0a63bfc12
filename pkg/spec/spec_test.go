package spec

import (
	"errors"
	"testing"

	"github.com/samcharles93/transpack/pkg/tensor"
)

func TestFromModelType(t *testing.T) {
	t.Parallel()

	m, err := FromModelType("TransformerBig")
	if err != nil {
		t.Fatalf("from model type: %v", err)
	}
	if m.NumHeads != 16 || m.WithRelativePosition {
		t.Fatalf("unexpected template: heads=%d relative=%v", m.NumHeads, m.WithRelativePosition)
	}

	m, err = FromModelType("transformerrelative")
	if err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
	if !m.WithRelativePosition {
		t.Fatal("expected relative-position template")
	}

	_, err = FromModelType("GPT2")
	if err == nil {
		t.Fatal("expected error for unknown model type")
	}
	if !errors.Is(err, ErrUnsupportedArchitecture) {
		t.Fatalf("got %v, want ErrUnsupportedArchitecture", err)
	}
	var archErr *UnsupportedArchitectureError
	if !errors.As(err, &archErr) || archErr.ModelType != "GPT2" {
		t.Fatalf("error should carry the model type, got %v", err)
	}
}

func TestRegisterVocabulary(t *testing.T) {
	t.Parallel()

	m := NewTransformerSpec(8, false)
	m.RegisterVocabulary("source", []string{"a", "b"})
	m.RegisterVocabulary("target", []string{"c"})
	m.RegisterVocabulary("source", []string{"x"})

	vocabs := m.Vocabularies()
	if len(vocabs) != 2 {
		t.Fatalf("got %d vocabularies, want 2", len(vocabs))
	}
	if vocabs[0].Name != "source" || vocabs[1].Name != "target" {
		t.Fatalf("registration order lost: %v, %v", vocabs[0].Name, vocabs[1].Name)
	}
	src, ok := m.Vocabulary("source")
	if !ok || len(src) != 1 || src[0] != "x" {
		t.Fatalf("re-registration should replace tokens, got %v", src)
	}
}

// populateTestSpec fills a one-layer model with correctly-shaped placeholder
// tensors. depth=2, ffn=3, vocab=4.
func populateTestSpec(t *testing.T, m *ModelSpec) {
	t.Helper()
	vec := func(n int) *tensor.Dense { return tensor.Zeros(n) }
	mat := func(r, c int) *tensor.Dense { return tensor.Zeros(r, c) }

	fillAttn := func(a *AttentionSpec, arity int) {
		a.LayerNorm = LayerNormSpec{Gamma: vec(2), Beta: vec(2)}
		switch arity {
		case 2:
			a.Linear[0] = LinearSpec{Weight: mat(6, 2)}
			a.Linear[1] = LinearSpec{Weight: mat(2, 2)}
		case 3:
			a.Linear[0] = LinearSpec{Weight: mat(2, 2)}
			a.Linear[1] = LinearSpec{Weight: mat(4, 2)}
			a.Linear[2] = LinearSpec{Weight: mat(2, 2)}
		}
	}
	fillFFN := func(f *FeedForwardSpec) {
		f.LayerNorm = LayerNormSpec{Gamma: vec(2), Beta: vec(2)}
		f.LinearIn = LinearSpec{Weight: mat(3, 2), Bias: vec(3)}
		f.LinearOut = LinearSpec{Weight: mat(2, 3), Bias: vec(2)}
	}

	m.Encoder.Embeddings = EmbeddingsSpec{Weight: mat(4, 2), ScaleBySqrtDepth: true}
	m.Encoder.LayerNorm = LayerNormSpec{Gamma: vec(2), Beta: vec(2)}
	enc := NewEncoderLayerSpec()
	fillAttn(&enc.SelfAttention, 2)
	fillFFN(&enc.FFN)
	m.Encoder.Layers = append(m.Encoder.Layers, enc)

	m.Decoder.Embeddings = EmbeddingsSpec{Weight: mat(4, 2), ScaleBySqrtDepth: true}
	m.Decoder.LayerNorm = LayerNormSpec{Gamma: vec(2), Beta: vec(2)}
	dec := NewDecoderLayerSpec()
	fillAttn(&dec.SelfAttention, 2)
	fillAttn(&dec.CrossAttention, 3)
	fillFFN(&dec.FFN)
	m.Decoder.Layers = append(m.Decoder.Layers, dec)
	m.Decoder.Projection = LinearSpec{Weight: mat(4, 2)}
}

func TestValidateAndVariables(t *testing.T) {
	t.Parallel()

	m := NewTransformerSpec(8, false)
	populateTestSpec(t, m)
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	vars := m.Variables()
	names := make(map[string]bool, len(vars))
	for _, v := range vars {
		if v.Tensor == nil {
			t.Fatalf("variable %s has nil tensor", v.Name)
		}
		names[v.Name] = true
	}
	for _, want := range []string{
		"encoder/embeddings/weight",
		"encoder/layer_norm/gamma",
		"encoder/layer_0/self_attention/linear_0/weight",
		"encoder/layer_0/ffn/linear_in/bias",
		"decoder/layer_0/cross_attention/linear_2/weight",
		"decoder/projection/weight",
	} {
		if !names[want] {
			t.Fatalf("flattened variables missing %s", want)
		}
	}
}

func TestValidateDetectsMissingTensors(t *testing.T) {
	t.Parallel()

	m := NewTransformerSpec(8, false)
	populateTestSpec(t, m)
	m.Decoder.Layers[0].FFN.LayerNorm.Beta = nil
	if err := m.Validate(); err == nil {
		t.Fatal("expected validation failure for missing beta")
	}

	m2 := NewTransformerSpec(8, true)
	populateTestSpec(t, m2)
	if err := m2.Validate(); err == nil {
		t.Fatal("expected validation failure for missing relative position tensors")
	}
}
