package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goccy/go-json"

	"github.com/samcharles93/transpack/pkg/spec"
	"github.com/samcharles93/transpack/pkg/tensor"
)

// Section payload versions.
const (
	ManifestVersion     uint32 = 1
	VocabulariesVersion uint32 = 1
	TensorIndexVersion  uint32 = 1
	TensorDataVersion   uint32 = 1
)

// Manifest describes the packed model. It is stored as JSON so new fields
// can be added without a format bump.
type Manifest struct {
	FormatVersion int    `json:"format_version"`
	BuildID       string `json:"build_id"`

	ModelType        string `json:"model_type"`
	SourceGeneration int    `json:"source_generation,omitempty"`

	NumHeads      int `json:"num_heads"`
	EncoderLayers int `json:"encoder_layers"`
	DecoderLayers int `json:"decoder_layers"`

	WithRelativePosition bool `json:"with_relative_position"`
	ScaleEmbeddings      bool `json:"scale_embeddings"`

	Quantization Quantization `json:"quantization"`
}

// IndexEntry locates one tensor payload. Offset is absolute from the start
// of the file, so slicing data out of File.Data is trivial.
type IndexEntry struct {
	Name   string `json:"name"`
	DType  DType  `json:"dtype"`
	Shape  []int  `json:"shape"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// Index is the tensor directory, sorted by name.
type Index struct {
	Tensors []IndexEntry `json:"tensors"`
}

// Find returns the entry for name.
func (ix *Index) Find(name string) (IndexEntry, bool) {
	n := len(ix.Tensors)
	i := sort.Search(n, func(i int) bool { return ix.Tensors[i].Name >= name })
	if i < n && ix.Tensors[i].Name == name {
		return ix.Tensors[i], true
	}
	return IndexEntry{}, false
}

// Manifest decodes the manifest section.
func (f *File) Manifest() (*Manifest, error) {
	sec := f.Section(SectionManifest)
	if sec == nil {
		return nil, fmt.Errorf("%w: no manifest section", ErrCorruptFile)
	}
	var m Manifest
	if err := json.Unmarshal(f.SectionData(sec), &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptFile, err)
	}
	return &m, nil
}

// Index decodes the tensor index section.
func (f *File) Index() (*Index, error) {
	sec := f.Section(SectionTensorIndex)
	if sec == nil {
		return nil, fmt.Errorf("%w: no tensor index section", ErrCorruptFile)
	}
	var ix Index
	if err := json.Unmarshal(f.SectionData(sec), &ix); err != nil {
		return nil, fmt.Errorf("%w: tensor index: %v", ErrCorruptFile, err)
	}
	return &ix, nil
}

// TensorBytes returns the payload slice for an index entry.
func (f *File) TensorBytes(e IndexEntry) ([]byte, error) {
	end := e.Offset + e.Size
	if end < e.Offset || end > uint64(len(f.Data)) {
		return nil, fmt.Errorf("%w: tensor %s out of bounds", ErrCorruptFile, e.Name)
	}
	return f.Data[e.Offset:end], nil
}

// TensorFloat32 decodes a float32 entry into a tensor.
func (f *File) TensorFloat32(e IndexEntry) (*tensor.Dense, error) {
	if e.DType != DTypeFloat32 {
		return nil, fmt.Errorf("tensor %s has dtype %s, not %s", e.Name, e.DType, DTypeFloat32)
	}
	raw, err := f.TensorBytes(e)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: tensor %s payload size %d", ErrCorruptFile, e.Name, len(raw))
	}
	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return tensor.New(e.Shape, data)
}

// Vocabularies section layout, little-endian:
//
//	u32 count
//	per vocabulary: u32 name_len, name bytes,
//	                u32 token_count,
//	                per token: u32 len, bytes
func encodeVocabularies(vocabs []spec.Vocabulary) []byte {
	var out []byte
	out = binary.LittleEndian.AppendUint32(out, uint32(len(vocabs)))
	for _, v := range vocabs {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Name)))
		out = append(out, v.Name...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(v.Tokens)))
		for _, tok := range v.Tokens {
			out = binary.LittleEndian.AppendUint32(out, uint32(len(tok)))
			out = append(out, tok...)
		}
	}
	return out
}

func decodeVocabularies(raw []byte) ([]spec.Vocabulary, error) {
	r := byteReader{buf: raw}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	vocabs := make([]spec.Vocabulary, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.lenString()
		if err != nil {
			return nil, err
		}
		tokenCount, err := r.uint32()
		if err != nil {
			return nil, err
		}
		tokens := make([]string, 0, tokenCount)
		for j := uint32(0); j < tokenCount; j++ {
			tok, err := r.lenString()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		}
		vocabs = append(vocabs, spec.Vocabulary{Name: name, Tokens: tokens})
	}
	if r.off != len(raw) {
		return nil, errors.New("trailing bytes")
	}
	return vocabs, nil
}

// Vocabularies decodes the vocabularies section.
func (f *File) Vocabularies() ([]spec.Vocabulary, error) {
	sec := f.Section(SectionVocabularies)
	if sec == nil {
		return nil, fmt.Errorf("%w: no vocabularies section", ErrCorruptFile)
	}
	vocabs, err := decodeVocabularies(f.SectionData(sec))
	if err != nil {
		return nil, fmt.Errorf("%w: vocabularies: %v", ErrCorruptFile, err)
	}
	return vocabs, nil
}

type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, errors.New("truncated payload")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) lenString() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.buf) {
		return "", errors.New("truncated payload")
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}
