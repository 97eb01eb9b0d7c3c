// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hed1ad/vlogguard/pkg/detectors"
)

var (
	ErrNotTrained      = errors.New("model not trained")
	ErrEmptyData       = errors.New("empty training data")
	ErrFeatureMismatch = errors.New("feature count does not match the model")
	ErrSnapshotVersion = errors.New("unsupported forest snapshot version")
	ErrInvalidConfig   = errors.New("invalid forest config")
)

var _ detectors.Detector = (*IsolationForest)(nil)

const snapshotVersion = 2

// IsolationForest implements unsupervised anomaly detection using isolation trees.
// After Fit or Load it is only read, so concurrent scoring is safe.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	threshold     float64
	maxDepth      int
	rng           *rand.Rand

	// Trained model
	trees     []*iTree
	trained   bool
	nFeatures int

	// Statistics from training
	avgPathLength float64
}

// iTree represents a single isolation tree.
type iTree struct {
	Root *node `msgpack:"r"`
}

// node is a node in the isolation tree.
type node struct {
	// Split parameters (for internal nodes). Min and Max bound the split
	// feature over the samples that reached the node.
	SplitFeature int     `msgpack:"f"`
	SplitValue   float64 `msgpack:"v"`
	Min          float64 `msgpack:"lo,omitempty"`
	Max          float64 `msgpack:"hi,omitempty"`

	// Children
	Left  *node `msgpack:"l,omitempty"`
	Right *node `msgpack:"g,omitempty"`

	// Leaf information
	Size int `msgpack:"s,omitempty"` // number of samples that reached this leaf
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies in the
// training data. Zero places the threshold at the highest training score.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// Config is the flag and file form of the training options.
type Config struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// DefaultConfig returns the defaults used by New. Zero contamination puts
// the threshold at the highest out-of-bag training score.
func DefaultConfig() Config {
	return Config{
		Trees:         200,
		SampleSize:    1024,
		Contamination: 0,
		Seed:          42,
	}
}

// Validate reports settings that cannot produce a usable forest.
func (c Config) Validate() error {
	switch {
	case c.Trees <= 0:
		return fmt.Errorf("%w: trees must be positive, got %d", ErrInvalidConfig, c.Trees)
	case c.SampleSize < 2:
		return fmt.Errorf("%w: sample size must be at least 2, got %d", ErrInvalidConfig, c.SampleSize)
	case !(c.Contamination >= 0 && c.Contamination < 0.5):
		return fmt.Errorf("%w: contamination must be in [0, 0.5), got %v", ErrInvalidConfig, c.Contamination)
	}
	return nil
}

// Options converts c into constructor options.
func (c Config) Options() []Option {
	return []Option{
		WithTrees(c.Trees),
		WithSampleSize(c.SampleSize),
		WithContamination(c.Contamination),
		WithSeed(c.Seed),
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	def := DefaultConfig()
	f := &IsolationForest{
		nTrees:        def.Trees,
		sampleSize:    def.SampleSize,
		contamination: def.Contamination,
		threshold:     0.5,
		rng:           rand.New(rand.NewSource(def.Seed)),
	}

	for _, opt := range opts {
		opt(f)
	}

	// Max depth based on sample size
	f.maxDepth = maxDepthFor(f.sampleSize)

	return f
}

func maxDepthFor(sampleSize int) int {
	if sampleSize < 2 {
		return 1
	}
	return int(math.Ceil(math.Log2(float64(sampleSize))))
}

// Fit trains the Isolation Forest on the provided data. It is the offline
// step that produces a frozen model; the threshold is fixed here.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg := Config{Trees: f.nTrees, SampleSize: f.sampleSize, Contamination: f.contamination}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptyData
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	for i, row := range data {
		if len(row) != nFeatures {
			return fmt.Errorf("sample %d: %w", i, ErrFeatureMismatch)
		}
	}

	// Adjust sample size if needed
	sampleSize := f.sampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	f.maxDepth = maxDepthFor(sampleSize)

	// Build trees, remembering which rows each one was grown on
	f.trees = make([]*iTree, f.nTrees)
	inBag := make([][]bool, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		inBag[i] = make([]bool, nSamples)
		for j, idx := range indices {
			sample[j] = data[idx]
			inBag[i][idx] = true
		}

		f.trees[i] = &iTree{Root: f.buildNode(sample, nFeatures, 0)}
	}

	// Calculate average path length for normalization
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.nFeatures = nFeatures
	f.trained = true

	// The threshold comes from out-of-bag scores so that training rows are
	// judged the same way as rows the forest has never seen.
	scores := f.outOfBagScores(data, inBag)
	if f.contamination > 0 {
		f.threshold = percentile(scores, 100*(1-f.contamination))
	} else {
		f.threshold = slices.Max(scores)
	}

	return nil
}

// outOfBagScores scores every training row using only the trees whose
// sample did not contain it. Rows that every tree saw use the whole forest.
func (f *IsolationForest) outOfBagScores(data [][]float64, inBag [][]bool) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		var total float64
		var n int
		for t, tree := range f.trees {
			if inBag[t][i] {
				continue
			}
			total += pathLength(sample, tree.Root, 0)
			n++
		}
		if n == 0 {
			for _, tree := range f.trees {
				total += pathLength(sample, tree.Root, 0)
			}
			n = len(f.trees)
		}
		scores[i] = scoreFromDepth(total/float64(n), f.avgPathLength)
	}
	return scores
}

func (f *IsolationForest) buildNode(data [][]float64, nFeatures, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= f.maxDepth || n <= 1 {
		return &node{Size: n}
	}

	// Random feature among those that still vary
	feature, minVal, maxVal, ok := f.pickFeature(data, nFeatures)
	if !ok {
		return &node{Size: n}
	}

	// Random split value
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Min:          minVal,
		Max:          maxVal,
		Left:         f.buildNode(leftData, nFeatures, depth+1),
		Right:        f.buildNode(rightData, nFeatures, depth+1),
	}
}

// pickFeature tries the features in random order and returns the first one
// whose values are not all equal, with its range. ok is false when every
// feature is constant over data.
func (f *IsolationForest) pickFeature(data [][]float64, nFeatures int) (feature int, minVal, maxVal float64, ok bool) {
	for _, feature = range f.rng.Perm(nFeatures) {
		minVal, maxVal = data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			minVal = math.Min(minVal, row[feature])
			maxVal = math.Max(maxVal, row[feature])
		}
		if minVal < maxVal {
			return feature, minVal, maxVal, true
		}
	}
	return 0, 0, 0, false
}

// Score implements detectors.Scorer.
func (f *IsolationForest) Score(features []float64) (detectors.Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return detectors.Result{}, ErrNotTrained
	}

	score, err := f.predictOne(features)
	if err != nil {
		return detectors.Result{}, err
	}
	return detectors.Result{
		Label: detectors.Decide(score, f.threshold),
		Value: score,
	}, nil
}

// Predict returns anomaly scores for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, ErrNotTrained
	}

	return f.predict(data)
}

func (f *IsolationForest) predict(data [][]float64) ([]float64, error) {
	scores := make([]float64, len(data))

	for i, sample := range data {
		score, err := f.predictOne(sample)
		if err != nil {
			return nil, err
		}
		scores[i] = score
	}

	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, ErrNotTrained
	}

	return f.predictOne(sample)
}

func (f *IsolationForest) predictOne(sample []float64) (float64, error) {
	avgPath, err := f.depth(sample)
	if err != nil {
		return 0, err
	}
	return scoreFromDepth(avgPath, f.avgPathLength), nil
}

// Depth returns the average isolation depth of a sample across the ensemble.
func (f *IsolationForest) Depth(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, ErrNotTrained
	}
	return f.depth(sample)
}

func (f *IsolationForest) depth(sample []float64) (float64, error) {
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("got %d features, want %d: %w", len(sample), f.nFeatures, ErrFeatureMismatch)
	}

	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.Root, 0)
	}
	return totalPath / float64(len(f.trees)), nil
}

// scoreFromDepth maps an average depth to 2^(-depth / c(n)).
// Shorter depth gives a higher score.
func scoreFromDepth(avgPath, norm float64) float64 {
	if norm <= 0 {
		return 0.5
	}
	return math.Pow(2, -avgPath/norm)
}

// pathLength calculates the expected path length for a sample in a tree.
//
// A reading outside the range a node was split over would have been cut off
// at that node with probability gap/(gap+range) had it been part of the
// sample, so that share of the path ends one level down. Readings inside
// the range follow the split as usual.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.Left == nil && n.Right == nil {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.Size))
	}

	v := sample[n.SplitFeature]
	var cut float64
	switch {
	case v < n.Min:
		cut = (n.Min - v) / (n.Max - v)
	case v > n.Max:
		cut = (v - n.Max) / (v - n.Min)
	}
	if math.IsNaN(cut) {
		// infinite reading
		cut = 1
	}

	next := n.Right
	if v < n.SplitValue {
		next = n.Left
	}
	if cut == 1 {
		return float64(currentDepth + 1)
	}
	rest := pathLength(sample, next, currentDepth+1)
	return cut*float64(currentDepth+1) + (1-cut)*rest
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// Approximation: H(n) ≈ ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

// snapshot is the serialized form of a trained forest.
type snapshot struct {
	Version       int      `msgpack:"version"`
	NTrees        int      `msgpack:"n_trees"`
	SampleSize    int      `msgpack:"sample_size"`
	Contamination float64  `msgpack:"contamination"`
	Threshold     float64  `msgpack:"threshold"`
	AvgPathLength float64  `msgpack:"avg_path_length"`
	NFeatures     int      `msgpack:"n_features"`
	Trees         []*iTree `msgpack:"trees"`
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, ErrNotTrained
	}

	return msgpack.Marshal(&snapshot{
		Version:       snapshotVersion,
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Threshold:     f.threshold,
		AvgPathLength: f.avgPathLength,
		NFeatures:     f.nFeatures,
		Trees:         f.trees,
	})
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	if len(s.Trees) == 0 || s.NFeatures <= 0 {
		return errors.New("forest snapshot has no trees")
	}
	for i, t := range s.Trees {
		if err := checkTree(t.Root, s.NFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = len(s.Trees)
	f.sampleSize = s.SampleSize
	f.contamination = s.Contamination
	f.threshold = s.Threshold
	f.avgPathLength = s.AvgPathLength
	f.nFeatures = s.NFeatures
	f.trees = s.Trees
	f.maxDepth = maxDepthFor(f.sampleSize)
	f.trained = true

	return nil
}

// checkTree rejects structurally broken trees so that scoring cannot panic.
func checkTree(n *node, nFeatures int) error {
	if n == nil {
		return errors.New("missing node")
	}
	if n.Left == nil && n.Right == nil {
		return nil
	}
	if n.Left == nil || n.Right == nil {
		return errors.New("internal node with a single child")
	}
	if n.SplitFeature < 0 || n.SplitFeature >= nFeatures {
		return fmt.Errorf("split feature %d out of range", n.SplitFeature)
	}
	if !(n.Min < n.Max) || n.SplitValue < n.Min || n.SplitValue > n.Max {
		return fmt.Errorf("split %v outside range [%v, %v]", n.SplitValue, n.Min, n.Max)
	}
	if err := checkTree(n.Left, nFeatures); err != nil {
		return err
	}
	return checkTree(n.Right, nFeatures)
}

// NFeatures returns the input dimensionality the model was trained on.
func (f *IsolationForest) NFeatures() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// percentile calculates the p-th percentile of the data.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
