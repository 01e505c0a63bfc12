package container

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/samcharles93/transpack/pkg/spec"
	"github.com/samcharles93/transpack/pkg/tensor"
)

// PackOptions configures Write.
type PackOptions struct {
	// Quantization applied to weight matrices. Defaults to none.
	Quantization Quantization

	// SourceGeneration records which checkpoint naming convention the
	// model was converted from. Zero means unknown.
	SourceGeneration int
}

type dedupKey struct {
	sum   [sha256.Size]byte
	dtype DType
	size  uint64
}

// Write packs a populated model into a container file at path. Tensors with
// identical payloads, tied projections in particular, are stored once and
// indexed twice. Output is deterministic apart from the manifest build ID.
func Write(path string, m *spec.ModelSpec, opts PackOptions) error {
	if opts.Quantization == "" {
		opts.Quantization = QuantNone
	}
	if err := m.Validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w, err := NewWriter(f)
	if err != nil {
		return err
	}
	w.AddFlags(FlagTensorDataAligned64)

	sw, err := w.BeginSection(SectionTensorData, TensorDataVersion)
	if err != nil {
		return err
	}

	var (
		entries []IndexEntry
		seen    = make(map[dedupKey]IndexEntry)
	)
	appendTensor := func(name string, dtype DType, shape []int, payload []byte) error {
		key := dedupKey{sum: sha256.Sum256(payload), dtype: dtype, size: uint64(len(payload))}
		if prev, ok := seen[key]; ok {
			entries = append(entries, IndexEntry{
				Name: name, DType: dtype, Shape: shape,
				Offset: prev.Offset, Size: prev.Size,
			})
			return nil
		}
		if err := sw.Align(tensorDataAlign); err != nil {
			return err
		}
		offset, err := sw.Offset()
		if err != nil {
			return err
		}
		if _, err := sw.Write(payload); err != nil {
			return err
		}
		e := IndexEntry{
			Name: name, DType: dtype, Shape: shape,
			Offset: offset, Size: uint64(len(payload)),
		}
		seen[key] = e
		entries = append(entries, e)
		return nil
	}

	for _, v := range m.Variables() {
		dtype := storageType(v.Name, v.Tensor, opts.Quantization)
		payload, scales, err := encodeTensor(v.Tensor, dtype)
		if err != nil {
			return fmt.Errorf("pack %s: %w", v.Name, err)
		}
		if err := appendTensor(v.Name, dtype, v.Tensor.Shape(), payload); err != nil {
			return err
		}
		if scales != nil {
			if err := appendTensor(v.Name+"_scale", DTypeFloat32,
				[]int{len(scales)}, encodeFloat32(scales)); err != nil {
				return err
			}
		}
	}
	if err := sw.End(); err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	indexJSON, err := json.Marshal(&Index{Tensors: entries})
	if err != nil {
		return err
	}
	if err := w.WriteSection(SectionTensorIndex, TensorIndexVersion, indexJSON); err != nil {
		return err
	}

	manifest := Manifest{
		FormatVersion:        int(CurrentMajor),
		BuildID:              uuid.NewString(),
		ModelType:            m.ModelType,
		SourceGeneration:     opts.SourceGeneration,
		NumHeads:             m.NumHeads,
		EncoderLayers:        len(m.Encoder.Layers),
		DecoderLayers:        len(m.Decoder.Layers),
		WithRelativePosition: m.WithRelativePosition,
		ScaleEmbeddings:      m.Encoder.Embeddings.ScaleBySqrtDepth,
		Quantization:         opts.Quantization,
	}
	manifestJSON, err := json.Marshal(&manifest)
	if err != nil {
		return err
	}
	if err := w.WriteSection(SectionManifest, ManifestVersion, manifestJSON); err != nil {
		return err
	}

	if err := w.WriteSection(SectionVocabularies, VocabulariesVersion,
		encodeVocabularies(m.Vocabularies())); err != nil {
		return err
	}

	return w.Finalise()
}

// storageType picks the on-disk dtype for one tensor. Only 2-D weight
// matrices are quantized; everything else stays float32.
func storageType(name string, t *tensor.Dense, q Quantization) DType {
	if q == QuantNone || t.Rank() != 2 || !strings.HasSuffix(name, "/weight") {
		return DTypeFloat32
	}
	switch q {
	case QuantFloat16:
		return DTypeFloat16
	case QuantBFloat16:
		return DTypeBFloat16
	case QuantInt8:
		return DTypeInt8
	}
	return DTypeFloat32
}

// encodeTensor serializes t as dtype. For int8 it also returns the per-row
// scales to store alongside the payload.
func encodeTensor(t *tensor.Dense, dtype DType) ([]byte, []float32, error) {
	switch dtype {
	case DTypeFloat32:
		return encodeFloat32(t.Data()), nil, nil
	case DTypeFloat16:
		return encodeFloat16(t.Data()), nil, nil
	case DTypeBFloat16:
		return encodeBFloat16(t.Data()), nil, nil
	case DTypeInt8:
		payload, scales, err := quantizeInt8(t)
		return payload, scales, err
	}
	return nil, nil, fmt.Errorf("unknown dtype %q", dtype)
}
