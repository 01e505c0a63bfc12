// Package spec defines the engine-ready model specification tree: typed nodes
// mirroring a transformer encoder/decoder architecture with normalized weight
// layouts, plus fusion, traversal and validation over that tree.
package spec

import "github.com/samcharles93/transpack/pkg/tensor"

// LinearSpec describes a linear projection. Weight is stored as
// [output_dim, input_dim]. Bias is optional; some projections are bias-free.
type LinearSpec struct {
	Weight *tensor.Dense
	Bias   *tensor.Dense
}

// LayerNormSpec describes a layer normalization with learned scale and offset.
// Both tensors are 1-D and required.
type LayerNormSpec struct {
	Gamma *tensor.Dense
	Beta  *tensor.Dense
}

// EmbeddingsSpec describes an embedding table. ScaleBySqrtDepth tells the
// engine to multiply looked-up embeddings by sqrt(depth) at inference time.
type EmbeddingsSpec struct {
	Weight           *tensor.Dense
	ScaleBySqrtDepth bool
}
