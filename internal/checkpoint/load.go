package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat is reported for checkpoints this converter cannot
// consume, such as serialized-program exports. There is no fallback.
var ErrUnsupportedFormat = errors.New("unsupported checkpoint format")

// savedModelFile marks a serialized-program export directory. Those bundles
// embed frozen graphs rather than raw variables and must be re-exported as a
// plain checkpoint before conversion.
const savedModelFile = "saved_model.pb"

const snapshotExt = ".safetensors"

// Load reads a checkpoint from path, which may be a snapshot file or a
// directory of ckpt-N snapshots (the highest N wins). It returns the detected
// naming-convention generation and the variable store, with the generation-2
// attribute-value suffix already stripped from every name.
func Load(path string) (Generation, *Store, error) {
	snapshot, err := resolveSnapshot(path)
	if err != nil {
		return 0, nil, err
	}
	vars, err := readSafetensors(snapshot)
	if err != nil {
		return 0, nil, fmt.Errorf("load checkpoint %s: %w", snapshot, err)
	}

	vars, stripped := StripAttributeSuffix(vars)
	generation := GenerationV1
	if stripped || strings.HasPrefix(filepath.Base(snapshot), "ckpt") {
		generation = GenerationV2
	}
	return generation, NewStore(vars), nil
}

// resolveSnapshot maps a user-supplied path to the snapshot file to read.
func resolveSnapshot(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}

	if _, err := os.Stat(filepath.Join(path, savedModelFile)); err == nil {
		return "", fmt.Errorf("%w: %s is a serialized-program export, convert a raw checkpoint instead",
			ErrUnsupportedFormat, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	latest := ""
	latestStep := -1
	fallback := ""
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		fallback = filepath.Join(path, name)
		step, ok := snapshotStep(name)
		if ok && step > latestStep {
			latestStep = step
			latest = fallback
		}
	}
	if latest != "" {
		return latest, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no %s snapshot found in %s", snapshotExt, path)
}

// snapshotStep extracts N from "ckpt-N.safetensors".
func snapshotStep(name string) (int, bool) {
	base := strings.TrimSuffix(name, snapshotExt)
	rest, ok := strings.CutPrefix(base, "ckpt-")
	if !ok {
		return 0, false
	}
	step, err := strconv.Atoi(rest)
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}
