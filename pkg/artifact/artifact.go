// Package artifact reads and writes the frozen scaler and forest files the
// analysis pipeline is started with.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hed1ad/vlogguard/pkg/detectors/iforest"
	"github.com/hed1ad/vlogguard/pkg/preprocess"
)

const (
	ScalerFormat  = "vlogguard/scaler"
	ForestFormat  = "vlogguard/iforest"
	formatVersion = 1
)

type scalerFile struct {
	Format       string            `msgpack:"format"`
	Version      int               `msgpack:"version"`
	ModelVersion string            `msgpack:"model_version"`
	Params       preprocess.Params `msgpack:"params"`
}

type forestFile struct {
	Format       string   `msgpack:"format"`
	Version      int      `msgpack:"version"`
	ModelVersion string   `msgpack:"model_version"`
	Features     []string `msgpack:"features"`
	Forest       []byte   `msgpack:"forest"`
}

// Bundle is the loaded, read-only model state shared by all analysis runs.
type Bundle struct {
	Version string
	Params  preprocess.Params
	Forest  *iforest.IsolationForest
}

// ModelLoadError reports a missing, corrupt or inconsistent artifact. It is
// fatal at process start.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("model load error: %v", e.Err)
	}
	return fmt.Sprintf("model load error: %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

var (
	ErrFormat          = errors.New("unexpected artifact format")
	ErrFeatureMismatch = errors.New("artifact features do not match")
)

// Load reads both artifacts and checks they belong together.
func Load(scalerPath, forestPath string) (*Bundle, error) {
	var sf scalerFile
	if err := readFile(scalerPath, &sf); err != nil {
		return nil, err
	}
	if sf.Format != ScalerFormat || sf.Version != formatVersion {
		return nil, &ModelLoadError{Path: scalerPath, Err: fmt.Errorf("%w: %s v%d", ErrFormat, sf.Format, sf.Version)}
	}
	if err := sf.Params.Validate(); err != nil {
		return nil, &ModelLoadError{Path: scalerPath, Err: err}
	}

	var ff forestFile
	if err := readFile(forestPath, &ff); err != nil {
		return nil, err
	}
	if ff.Format != ForestFormat || ff.Version != formatVersion {
		return nil, &ModelLoadError{Path: forestPath, Err: fmt.Errorf("%w: %s v%d", ErrFormat, ff.Format, ff.Version)}
	}
	if !slices.Equal(ff.Features, sf.Params.Features) {
		return nil, &ModelLoadError{Path: forestPath, Err: fmt.Errorf("%w: forest %v, scaler %v",
			ErrFeatureMismatch, ff.Features, sf.Params.Features)}
	}

	forest := iforest.New()
	if err := forest.Load(ff.Forest); err != nil {
		return nil, &ModelLoadError{Path: forestPath, Err: err}
	}
	if forest.NFeatures() != len(ff.Features) {
		return nil, &ModelLoadError{Path: forestPath, Err: fmt.Errorf("%w: forest expects %d inputs, file lists %d",
			ErrFeatureMismatch, forest.NFeatures(), len(ff.Features))}
	}

	version := ff.ModelVersion
	if version == "" {
		version = sf.ModelVersion
	}
	return &Bundle{
		Version: version,
		Params:  sf.Params,
		Forest:  forest,
	}, nil
}

// CheckFeatures verifies the bundle was trained on exactly these sensors,
// in this order.
func (b *Bundle) CheckFeatures(sensors []string) error {
	if !slices.Equal(b.Params.Features, sensors) {
		return &ModelLoadError{Err: fmt.Errorf("%w: model %v, profile %v",
			ErrFeatureMismatch, b.Params.Features, sensors)}
	}
	return nil
}

// Save writes both artifacts. It is used by the offline fit step.
func Save(scalerPath, forestPath, version string, params preprocess.Params, forest *iforest.IsolationForest) error {
	if err := params.Validate(); err != nil {
		return err
	}
	raw, err := forest.Save()
	if err != nil {
		return fmt.Errorf("serialize forest: %w", err)
	}

	if err := writeFile(scalerPath, &scalerFile{
		Format:       ScalerFormat,
		Version:      formatVersion,
		ModelVersion: version,
		Params:       params,
	}); err != nil {
		return err
	}
	return writeFile(forestPath, &forestFile{
		Format:       ForestFormat,
		Version:      formatVersion,
		ModelVersion: version,
		Features:     params.Features,
		Forest:       raw,
	})
}

func readFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ModelLoadError{Path: path, Err: err}
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return &ModelLoadError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func writeFile(path string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
