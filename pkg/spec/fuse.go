package spec

import (
	"fmt"

	"github.com/samcharles93/transpack/pkg/tensor"
)

// FuseLinear combines separately-stored projections that share an input and
// whose outputs are concatenated at inference time into one fused projection.
//
// The fused weight is the row-wise concatenation of the parts' weights, so
// concatenation order must equal projection-role order (query, key, value) for
// the fused output slices to line up with the engine's slice boundaries. The
// fused bias is the concatenation of the parts' biases when every part has
// one, and absent otherwise.
func FuseLinear(target *LinearSpec, parts []LinearSpec) error {
	if target == nil {
		return fmt.Errorf("spec: fuse into nil target")
	}
	if len(parts) == 0 {
		return fmt.Errorf("spec: fuse of zero projections")
	}

	weights := make([]*tensor.Dense, len(parts))
	biases := make([]*tensor.Dense, 0, len(parts))
	for i := range parts {
		if parts[i].Weight == nil {
			return fmt.Errorf("spec: fuse part %d has no weight", i)
		}
		weights[i] = parts[i].Weight
		if parts[i].Bias != nil {
			biases = append(biases, parts[i].Bias)
		}
	}

	fused, err := tensor.ConcatRows(weights...)
	if err != nil {
		return fmt.Errorf("spec: fuse weights: %w", err)
	}
	target.Weight = fused
	target.Bias = nil

	if len(biases) == len(parts) {
		flat := make([]*tensor.Dense, len(biases))
		for i, b := range biases {
			// Biases are 1-D; concatenate them as single-column stacks.
			r, err := tensor.New([]int{b.Len(), 1}, b.Data())
			if err != nil {
				return fmt.Errorf("spec: fuse bias %d: %w", i, err)
			}
			flat[i] = r
		}
		cat, err := tensor.ConcatRows(flat...)
		if err != nil {
			return fmt.Errorf("spec: fuse biases: %w", err)
		}
		bias, err := tensor.New([]int{cat.Dim(0)}, cat.Data())
		if err != nil {
			return fmt.Errorf("spec: fuse biases: %w", err)
		}
		target.Bias = bias
	}
	return nil
}
