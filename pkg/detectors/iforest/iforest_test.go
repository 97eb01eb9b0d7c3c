package iforest

import (
	"math"
	"math/rand"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hed1ad/vlogguard/pkg/detectors"
)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 200,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithContamination(0.05), WithSeed(123)},
			wantNTrees: 200,
		},
		{
			name:       "from config",
			opts:       Config{Trees: 30, SampleSize: 64, Contamination: 0.02, Seed: 1}.Options(),
			wantNTrees: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
		})
	}
}

func TestConfigOptions(t *testing.T) {
	f := New(Config{Trees: 30, SampleSize: 64, Contamination: 0.02, Seed: 1}.Options()...)
	assert.Equal(t, 64, f.sampleSize)
	assert.Equal(t, 0.02, f.contamination)
	assert.Equal(t, 6, f.maxDepth)

	def := New(DefaultConfig().Options()...)
	assert.Equal(t, New().nTrees, def.nTrees)
	assert.Equal(t, New().contamination, def.contamination)
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr bool
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: true,
		},
		{
			name:    "ragged data",
			data:    [][]float64{{1, 2}, {1}},
			wantErr: true,
		},
		{
			name:    "single sample",
			data:    [][]float64{{1.0, 2.0, 3.0}},
			wantErr: false,
		},
		{
			name:    "normal data",
			data:    generateTestData(100, 5),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			err := f.Fit(tt.data)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.nTrees)
				assert.Equal(t, len(tt.data[0]), f.NFeatures())
			}
		})
	}
}

func TestFitSingleSampleScoresAreFinite(t *testing.T) {
	f := New(WithTrees(5), WithContamination(0))
	require.NoError(t, f.Fit([][]float64{{1, 2}}))

	res, err := f.Score([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Value)
}

func TestFitIsReproducible(t *testing.T) {
	data := generateTestData(300, 4)
	a := New(WithTrees(20), WithSeed(7))
	b := New(WithTrees(20), WithSeed(7))
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	sa, err := a.Predict(data[:20])
	require.NoError(t, err)
	sb, err := b.Predict(data[:20])
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Threshold(), b.Threshold())
}

func TestPredict(t *testing.T) {
	// Train on normal data
	trainData := generateTestData(500, 5)
	f := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	t.Run("predict on normal data", func(t *testing.T) {
		testData := generateTestData(100, 5)
		scores, err := f.Predict(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		// All scores should be in [0, 1]
		for _, score := range scores {
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("predict on anomalies", func(t *testing.T) {
		// Anomalous data: very different from training
		anomalies := [][]float64{
			{1000, 1000, 1000, 1000, 1000},
			{-500, -500, -500, -500, -500},
		}
		scores, err := f.Predict(anomalies)

		require.NoError(t, err)
		// Anomalies should have higher scores
		for _, score := range scores {
			assert.Greater(t, score, 0.4, "anomalies should have high scores")
		}
	})

	t.Run("predict wrong width", func(t *testing.T) {
		_, err := f.Predict([][]float64{{1, 2}})
		assert.ErrorIs(t, err, ErrFeatureMismatch)
	})

	t.Run("predict before fit", func(t *testing.T) {
		untrained := New()
		_, err := untrained.Predict(trainData)
		assert.ErrorIs(t, err, ErrNotTrained)
	})
}

func TestPredictOne(t *testing.T) {
	trainData := generateTestData(200, 3)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	score, err := f.PredictOne([]float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestScore(t *testing.T) {
	trainData := generateTestData(400, 3)
	f := New(WithTrees(50), WithSeed(42), WithContamination(0.05))
	require.NoError(t, f.Fit(trainData))

	t.Run("label follows threshold", func(t *testing.T) {
		for _, sample := range generateTestData(50, 3) {
			res, err := f.Score(sample)
			require.NoError(t, err)
			assert.Equal(t, detectors.Decide(res.Value, f.Threshold()), res.Label)
		}
	})

	t.Run("extreme sample is anomalous", func(t *testing.T) {
		res, err := f.Score([]float64{50, -50, 50})
		require.NoError(t, err)
		assert.True(t, res.IsAnomaly())
	})

	t.Run("scoring is repeatable", func(t *testing.T) {
		sample := []float64{0.3, -1.2, 2.2}
		first, err := f.Score(sample)
		require.NoError(t, err)
		threshold := f.Threshold()
		for i := 0; i < 10; i++ {
			again, err := f.Score(sample)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
		assert.Equal(t, threshold, f.Threshold())
	})

	t.Run("untrained", func(t *testing.T) {
		_, err := New().Score([]float64{1})
		assert.ErrorIs(t, err, ErrNotTrained)
	})
}

func TestScoreMonotoneInDepth(t *testing.T) {
	trainData := generateTestData(300, 4)
	f := New(WithTrees(30), WithSeed(3))
	require.NoError(t, f.Fit(trainData))

	type point struct{ depth, score float64 }
	var points []point
	samples := append(generateTestData(100, 4), []float64{9, 9, 9, 9}, []float64{-6, 0, 6, 0})
	for _, s := range samples {
		d, err := f.Depth(s)
		require.NoError(t, err)
		sc, err := f.PredictOne(s)
		require.NoError(t, err)
		points = append(points, point{d, sc})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].depth < points[j].depth })
	for i := 1; i < len(points); i++ {
		assert.LessOrEqual(t, points[i].score, points[i-1].score,
			"lower depth must not score lower")
	}
}

func TestScoreFromDepth(t *testing.T) {
	norm := averagePathLength(256)
	prev := scoreFromDepth(0, norm)
	assert.Equal(t, 1.0, prev)
	for d := 0.5; d < 20; d += 0.5 {
		s := scoreFromDepth(d, norm)
		assert.LessOrEqual(t, s, prev)
		prev = s
	}
	assert.InDelta(t, 0.5, scoreFromDepth(norm, norm), 1e-12)
	assert.Equal(t, 0.5, scoreFromDepth(3, 0))
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(200, 4)
	original := New(WithTrees(30), WithContamination(0.15), WithSeed(42))
	require.NoError(t, original.Fit(trainData))

	// Get predictions before save
	testData := generateTestData(50, 4)
	originalScores, err := original.Predict(testData)
	require.NoError(t, err)

	// Save
	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Load into new instance
	loaded := New()
	err = loaded.Load(data)
	require.NoError(t, err)

	// Predictions should match
	loadedScores, err := loaded.Predict(testData)
	require.NoError(t, err)

	assert.Equal(t, originalScores, loadedScores)
	assert.Equal(t, original.Threshold(), loaded.Threshold())
	assert.Equal(t, 4, loaded.NFeatures())
}

func TestSaveUntrained(t *testing.T) {
	_, err := New().Save()
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestLoadRejectsBrokenSnapshots(t *testing.T) {
	encode := func(s snapshot) []byte {
		b, err := msgpack.Marshal(&s)
		require.NoError(t, err)
		return b
	}
	leaf := &node{Size: 1}

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("definitely not msgpack")},
		{"wrong version", encode(snapshot{Version: 99, NFeatures: 1, Trees: []*iTree{{Root: leaf}}})},
		{"no trees", encode(snapshot{Version: snapshotVersion, NFeatures: 1})},
		{"nil root", encode(snapshot{Version: snapshotVersion, NFeatures: 1, Trees: []*iTree{{}}})},
		{"one child", encode(snapshot{Version: snapshotVersion, NFeatures: 1,
			Trees: []*iTree{{Root: &node{Left: leaf}}}})},
		{"feature out of range", encode(snapshot{Version: snapshotVersion, NFeatures: 1,
			Trees: []*iTree{{Root: &node{SplitFeature: 3, Min: 0, Max: 1, Left: leaf, Right: leaf}}}})},
		{"empty split range", encode(snapshot{Version: snapshotVersion, NFeatures: 1,
			Trees: []*iTree{{Root: &node{SplitValue: 2, Min: 2, Max: 2, Left: leaf, Right: leaf}}}})},
		{"split outside range", encode(snapshot{Version: snapshotVersion, NFeatures: 1,
			Trees: []*iTree{{Root: &node{SplitValue: 5, Min: 0, Max: 1, Left: leaf, Right: leaf}}}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New()
			assert.Error(t, f.Load(tt.data))
			assert.False(t, f.trained)
		})
	}
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, 0.5, New().Threshold())

	// every tree sees all 50 rows, so out-of-bag scores fall back to the
	// whole forest and match Predict
	data := generateTestData(50, 3)
	tests := []struct {
		name          string
		contamination float64
		want          func(scores []float64) float64
	}{
		{"highest training score", 0, func(s []float64) float64 { return slices.Max(s) }},
		{"contamination percentile", 0.1, func(s []float64) float64 { return percentile(s, 90) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(20), WithSampleSize(64), WithContamination(tt.contamination), WithSeed(5))
			require.NoError(t, f.Fit(data))
			scores, err := f.Predict(data)
			require.NoError(t, err)
			assert.Equal(t, tt.want(scores), f.Threshold())
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"percentile threshold", Config{Trees: 10, SampleSize: 2, Contamination: 0.49}, false},
		{"no trees", Config{Trees: 0, SampleSize: 256}, true},
		{"negative trees", Config{Trees: -3, SampleSize: 256}, true},
		{"sample size one", Config{Trees: 10, SampleSize: 1}, true},
		{"negative sample size", Config{Trees: 10, SampleSize: -1}, true},
		{"contamination half", Config{Trees: 10, SampleSize: 256, Contamination: 0.5}, true},
		{"contamination above one", Config{Trees: 10, SampleSize: 256, Contamination: 1.5}, true},
		{"negative contamination", Config{Trees: 10, SampleSize: 256, Contamination: -0.1}, true},
		{"NaN contamination", Config{Trees: 10, SampleSize: 256, Contamination: math.NaN()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}

			// Fit refuses the same settings instead of panicking or
			// producing NaN scores
			f := New(tt.cfg.Options()...)
			fitErr := f.Fit(generateTestData(100, 2))
			if tt.wantErr {
				assert.ErrorIs(t, fitErr, ErrInvalidConfig)
				assert.False(t, f.trained)
			} else {
				assert.NoError(t, fitErr)
			}
		})
	}
}

func TestOutOfRangeReadings(t *testing.T) {
	data := generateTestData(500, 2)
	f := New(WithTrees(100), WithSeed(9))
	require.NoError(t, f.Fit(data))

	// past the training maximum, the further out the reading the higher
	// the score
	prev := 0.0
	for _, v := range []float64{6, 10, 20, 40, 80} {
		s, err := f.PredictOne([]float64{v, 0})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, prev, "reading %v", v)
		prev = s
	}

	res, err := f.Score([]float64{0, -40})
	require.NoError(t, err)
	assert.True(t, res.IsAnomaly(), "score %v threshold %v", res.Value, f.Threshold())

	inf, err := f.PredictOne([]float64{math.Inf(1), 0})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(inf))
	assert.GreaterOrEqual(t, inf, prev)
}

func TestConstantFeatureIsSkipped(t *testing.T) {
	data := generateTestData(200, 2)
	for _, row := range data {
		row[0] = 1
	}
	f := New(WithTrees(20), WithSeed(4))
	require.NoError(t, f.Fit(data))

	for _, tree := range f.trees {
		require.NotNil(t, tree.Root.Left)
		assert.Equal(t, 1, tree.Root.SplitFeature)
	}
}

func TestPercentile(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 5.0, percentile(data, 100))
	assert.Equal(t, 1.0, percentile(data, 0))
	assert.Equal(t, 3.0, percentile(data, 50))
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, data)
	assert.Equal(t, 0.0, percentile(nil, 50))
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 10)
	f := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkPredict(b *testing.B) {
	trainData := generateTestData(5000, 10)
	testData := generateTestData(1000, 10)

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Predict(testData)
	}
}

func BenchmarkScore(b *testing.B) {
	trainData := generateTestData(5000, 10)
	sample := make([]float64, 10)
	for i := range sample {
		sample[i] = rand.Float64()
	}

	f := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Score(sample)
	}
}

func generateTestData(n, features int) [][]float64 {
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rand.NormFloat64()
		}
	}
	return data
}
