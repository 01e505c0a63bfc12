package container

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/transpack/pkg/spec"
	"github.com/samcharles93/transpack/pkg/tensor"
)

func mustTensor(t *testing.T, shape []int, data []float32) *tensor.Dense {
	t.Helper()
	d, err := tensor.New(shape, data)
	if err != nil {
		t.Fatalf("tensor.New(%v): %v", shape, err)
	}
	return d
}

func seqTensor(t *testing.T, start float32, shape ...int) *tensor.Dense {
	t.Helper()
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = start + float32(i)
	}
	return mustTensor(t, shape, data)
}

// buildModel returns a tiny fully-populated model with the decoder
// projection tied to the target embedding table.
func buildModel(t *testing.T) *spec.ModelSpec {
	t.Helper()
	const (
		depth = 2
		ffn   = 3
		vocab = 4
	)
	m := spec.NewTransformerSpec(8, false)
	m.ModelType = "Transformer"

	fillNorm := func(n *spec.LayerNormSpec, start float32) {
		n.Gamma = seqTensor(t, start, depth)
		n.Beta = seqTensor(t, start+10, depth)
	}
	fillLinear := func(l *spec.LinearSpec, start float32, out, in int) {
		l.Weight = seqTensor(t, start, out, in)
		l.Bias = seqTensor(t, start+100, out)
	}
	fillFFN := func(f *spec.FeedForwardSpec, start float32) {
		fillNorm(&f.LayerNorm, start)
		fillLinear(&f.LinearIn, start+1, ffn, depth)
		fillLinear(&f.LinearOut, start+2, depth, ffn)
	}

	m.Encoder.Embeddings.Weight = seqTensor(t, 1, vocab, depth)
	m.Encoder.Embeddings.ScaleBySqrtDepth = true
	fillNorm(&m.Encoder.LayerNorm, 200)
	enc := spec.NewEncoderLayerSpec()
	fillNorm(&enc.SelfAttention.LayerNorm, 300)
	fillLinear(&enc.SelfAttention.Linear[0], 310, 3*depth, depth)
	fillLinear(&enc.SelfAttention.Linear[1], 320, depth, depth)
	fillFFN(&enc.FFN, 330)
	m.Encoder.Layers = append(m.Encoder.Layers, enc)

	m.Decoder.Embeddings.Weight = seqTensor(t, 400, vocab, depth)
	m.Decoder.Embeddings.ScaleBySqrtDepth = true
	fillNorm(&m.Decoder.LayerNorm, 410)
	dec := spec.NewDecoderLayerSpec()
	fillNorm(&dec.SelfAttention.LayerNorm, 500)
	fillLinear(&dec.SelfAttention.Linear[0], 510, 3*depth, depth)
	fillLinear(&dec.SelfAttention.Linear[1], 520, depth, depth)
	fillNorm(&dec.CrossAttention.LayerNorm, 530)
	fillLinear(&dec.CrossAttention.Linear[0], 540, depth, depth)
	fillLinear(&dec.CrossAttention.Linear[1], 550, 2*depth, depth)
	fillLinear(&dec.CrossAttention.Linear[2], 560, depth, depth)
	fillFFN(&dec.FFN, 570)
	m.Decoder.Layers = append(m.Decoder.Layers, dec)

	// Tied projection: same tensor under two logical names.
	m.Decoder.Projection.Weight = m.Decoder.Embeddings.Weight

	m.RegisterVocabulary("source", []string{"a", "b", "c", "<unk>"})
	m.RegisterVocabulary("target", []string{"x", "y", "z", "<unk>"})
	return m
}

func writeModel(t *testing.T, m *spec.ModelSpec, opts PackOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.tpc")
	if err := Write(path, m, opts); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return path
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	m := buildModel(t)
	path := writeModel(t, m, PackOptions{SourceGeneration: 2})

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	manifest, err := f.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if manifest.ModelType != "Transformer" || manifest.NumHeads != 8 {
		t.Errorf("manifest = %+v", manifest)
	}
	if manifest.EncoderLayers != 1 || manifest.DecoderLayers != 1 {
		t.Errorf("layer counts = %d/%d", manifest.EncoderLayers, manifest.DecoderLayers)
	}
	if manifest.SourceGeneration != 2 || !manifest.ScaleEmbeddings {
		t.Errorf("manifest = %+v", manifest)
	}
	if manifest.Quantization != QuantNone {
		t.Errorf("quantization = %q", manifest.Quantization)
	}
	if manifest.BuildID == "" {
		t.Error("build ID is empty")
	}

	vocabs, err := f.Vocabularies()
	if err != nil {
		t.Fatalf("Vocabularies: %v", err)
	}
	if len(vocabs) != 2 || vocabs[0].Name != "source" || vocabs[1].Tokens[0] != "x" {
		t.Fatalf("vocabularies = %+v", vocabs)
	}

	ix, err := f.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	want := len(m.Variables())
	if len(ix.Tensors) != want {
		t.Fatalf("index has %d tensors, want %d", len(ix.Tensors), want)
	}
	for _, e := range ix.Tensors {
		if e.Offset%tensorDataAlign != 0 {
			t.Errorf("tensor %s offset %d not %d-byte aligned", e.Name, e.Offset, tensorDataAlign)
		}
	}

	e, ok := ix.Find("encoder/layer_0/ffn/linear_in/weight")
	if !ok {
		t.Fatal("feed-forward weight missing from index")
	}
	got, err := f.TensorFloat32(e)
	if err != nil {
		t.Fatalf("TensorFloat32: %v", err)
	}
	if !got.Equal(m.Encoder.Layers[0].FFN.LinearIn.Weight) {
		t.Error("payload does not round-trip")
	}

	// The same file opened through an io.ReaderAt must parse identically.
	raw, err := os.Open(path)
	if err != nil {
		t.Fatalf("os.Open: %v", err)
	}
	defer func() { _ = raw.Close() }()
	st, err := raw.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	fr, err := OpenReaderAt(raw, st.Size())
	if err != nil {
		t.Fatalf("OpenReaderAt: %v", err)
	}
	ix2, err := fr.Index()
	if err != nil {
		t.Fatalf("Index via reader: %v", err)
	}
	if len(ix2.Tensors) != len(ix.Tensors) {
		t.Fatalf("reader index has %d tensors, want %d", len(ix2.Tensors), len(ix.Tensors))
	}
	got2, err := fr.TensorFloat32(e)
	if err != nil {
		t.Fatalf("TensorFloat32 via reader: %v", err)
	}
	if !got2.Equal(got) {
		t.Error("reader payload differs from file payload")
	}
}

func TestTiedWeightsStoredOnce(t *testing.T) {
	t.Parallel()
	m := buildModel(t)
	path := writeModel(t, m, PackOptions{})

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ix, err := f.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	emb, ok := ix.Find("decoder/embeddings/weight")
	if !ok {
		t.Fatal("decoder embeddings missing")
	}
	proj, ok := ix.Find("decoder/projection/weight")
	if !ok {
		t.Fatal("decoder projection missing")
	}
	if emb.Offset != proj.Offset || emb.Size != proj.Size {
		t.Errorf("tied tensors stored separately: %+v vs %+v", emb, proj)
	}
}

func TestQuantizationFloat16(t *testing.T) {
	t.Parallel()
	m := buildModel(t)
	path := writeModel(t, m, PackOptions{Quantization: QuantFloat16})

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ix, err := f.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	w, _ := ix.Find("encoder/layer_0/self_attention/linear_0/weight")
	if w.DType != DTypeFloat16 {
		t.Errorf("weight dtype = %s, want float16", w.DType)
	}
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	if w.Size != uint64(2*n) {
		t.Errorf("weight size = %d, want %d", w.Size, 2*n)
	}

	// Norm weights and biases stay full precision.
	g, _ := ix.Find("encoder/layer_norm/gamma")
	if g.DType != DTypeFloat32 {
		t.Errorf("gamma dtype = %s, want float32", g.DType)
	}
	b, _ := ix.Find("encoder/layer_0/self_attention/linear_0/bias")
	if b.DType != DTypeFloat32 {
		t.Errorf("bias dtype = %s, want float32", b.DType)
	}
}

func TestQuantizationInt8(t *testing.T) {
	t.Parallel()
	m := buildModel(t)
	path := writeModel(t, m, PackOptions{Quantization: QuantInt8})

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ix, err := f.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	const name = "encoder/layer_0/ffn/linear_in/weight"
	w, ok := ix.Find(name)
	if !ok {
		t.Fatal("weight missing")
	}
	if w.DType != DTypeInt8 {
		t.Fatalf("dtype = %s, want int8", w.DType)
	}
	rows, cols := w.Shape[0], w.Shape[1]
	if w.Size != uint64(rows*cols) {
		t.Fatalf("size = %d, want %d", w.Size, rows*cols)
	}

	s, ok := ix.Find(name + "_scale")
	if !ok {
		t.Fatal("scale tensor missing")
	}
	if len(s.Shape) != 1 || s.Shape[0] != rows {
		t.Fatalf("scale shape = %v, want [%d]", s.Shape, rows)
	}

	// Dequantized values must be within half a quantization step.
	payload, err := f.TensorBytes(w)
	if err != nil {
		t.Fatalf("TensorBytes: %v", err)
	}
	scales, err := f.TensorFloat32(s)
	if err != nil {
		t.Fatalf("scales: %v", err)
	}
	orig := m.Encoder.Layers[0].FFN.LinearIn.Weight.Data()
	for r := 0; r < rows; r++ {
		scale := scales.Data()[r]
		for c := 0; c < cols; c++ {
			q := float32(int8(payload[r*cols+c]))
			got := q / scale
			want := orig[r*cols+c]
			if diff := math.Abs(float64(got - want)); diff > float64(0.5/scale)+1e-6 {
				t.Fatalf("dequantized [%d,%d] = %v, want %v", r, c, got, want)
			}
		}
	}
}

func TestParseQuantization(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "none", "float16", "bfloat16", "int8"} {
		if _, err := ParseQuantization(s); err != nil {
			t.Errorf("ParseQuantization(%q): %v", s, err)
		}
	}
	if _, err := ParseQuantization("int4"); err == nil {
		t.Error("ParseQuantization(int4) should fail")
	}
}

func TestHalfPrecisionEncodings(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   float32
		want uint16
	}{
		{0, 0x0000},
		{1, 0x3c00},
		{-2, 0xc000},
		{65504, 0x7bff},
		{1e9, 0x7c00},
		{float32(math.Inf(-1)), 0xfc00},
	}
	for _, c := range cases {
		if got := f32ToFP16(c.in); got != c.want {
			t.Errorf("f32ToFP16(%v) = %#04x, want %#04x", c.in, got, c.want)
		}
	}
	if got := f32ToBF16(1); got != 0x3f80 {
		t.Errorf("f32ToBF16(1) = %#04x, want 0x3f80", got)
	}
	if got := f32ToBF16(float32(math.Inf(1))); got != 0x7f80 {
		t.Errorf("f32ToBF16(+inf) = %#04x, want 0x7f80", got)
	}
}

func TestOpenRejectsCorruptFiles(t *testing.T) {
	t.Parallel()
	m := buildModel(t)
	path := writeModel(t, m, PackOptions{})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.tpc")
	flipped := append([]byte(nil), raw...)
	flipped[0] = 'X'
	if err := os.WriteFile(bad, flipped, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(bad); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("bad magic: err = %v", err)
	}

	truncated := filepath.Join(t.TempDir(), "short.tpc")
	if err := os.WriteFile(truncated, raw[:len(raw)/2], 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(truncated); !errors.Is(err, ErrCorruptFile) {
		t.Errorf("truncated: err = %v", err)
	}

	future := append([]byte(nil), raw...)
	binary.LittleEndian.PutUint16(future[4:6], CurrentMajor+1)
	versioned := filepath.Join(t.TempDir(), "future.tpc")
	if err := os.WriteFile(versioned, future, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(versioned); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("future version: err = %v", err)
	}
}
