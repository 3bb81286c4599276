package detectors

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

const (
	forestSampleSize = 256
	eulerMascheroni  = 0.5772156649
)

// MLOptions tunes the isolation-forest detector.
type MLOptions struct {
	Enabled       bool
	MinSamples    int
	Contamination float64
	Trees         int
	Seed          int64
}

// MLDetector scores (report_count, response_time) pairs with a per-service
// isolation forest. Services without a trained model, and any scoring
// problem, yield the same neutral result as insufficient data; this
// detector never blocks or fails the pipeline.
type MLDetector struct {
	opts MLOptions

	mu     sync.RWMutex
	models map[int64]*serviceModel
}

type serviceModel struct {
	forest    *isolationForest
	scaler    standardScaler
	threshold float64
}

// NewMLDetector creates the detector. A disabled detector keeps accepting
// Train and Detect calls but always answers neutrally.
func NewMLDetector(opts MLOptions) *MLDetector {
	if opts.MinSamples <= 0 {
		opts.MinSamples = 20
	}
	if opts.Contamination <= 0 || opts.Contamination >= 0.5 {
		opts.Contamination = 0.1
	}
	if opts.Trees <= 0 {
		opts.Trees = 100
	}
	return &MLDetector{opts: opts, models: make(map[int64]*serviceModel)}
}

// Trained reports whether a model exists for the service.
func (d *MLDetector) Trained(serviceID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.models[serviceID]
	return ok
}

// Train fits a model from hourly history samples. Fewer than MinSamples
// points leaves the service untrained; training never returns an error.
func (d *MLDetector) Train(serviceID int64, history []models.HistoryPoint) {
	if !d.opts.Enabled || len(history) < d.opts.MinSamples {
		return
	}

	samples := make([][2]float64, len(history))
	for i, pt := range history {
		samples[i] = [2]float64{pt.ReportCount, pt.ResponseTimeMs}
	}

	scaler := fitScaler(samples)
	scaled := make([][2]float64, len(samples))
	for i, s := range samples {
		scaled[i] = scaler.transform(s)
	}

	rng := rand.New(rand.NewSource(d.opts.Seed + serviceID))
	forest := buildForest(scaled, d.opts.Trees, rng)

	// Threshold at the contamination quantile of training scores: the top
	// fraction of the training set sits at or above it.
	scores := make([]float64, len(scaled))
	for i, s := range scaled {
		scores[i] = forest.score(s)
	}
	sort.Float64s(scores)
	idx := int(math.Ceil(float64(len(scores)) * (1 - d.opts.Contamination)))
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	threshold := scores[idx]

	d.mu.Lock()
	d.models[serviceID] = &serviceModel{forest: forest, scaler: scaler, threshold: threshold}
	d.mu.Unlock()
}

// Detect scores the current observation for the service. Margin above the
// trained threshold drives confidence and severity.
func (d *MLDetector) Detect(serviceID int64, reportCount, responseTimeMs float64, ts time.Time) models.AnomalyResult {
	if !d.opts.Enabled {
		return models.NeutralResult(models.MethodIsolationForest, reportCount, ts)
	}

	d.mu.RLock()
	model := d.models[serviceID]
	d.mu.RUnlock()
	if model == nil {
		return models.NeutralResult(models.MethodIsolationForest, reportCount, ts)
	}

	score := model.forest.score(model.scaler.transform([2]float64{reportCount, responseTimeMs}))
	margin := score - model.threshold

	res := models.AnomalyResult{
		Severity:      models.SeverityLow,
		Method:        models.MethodIsolationForest,
		BaselineValue: model.threshold,
		CurrentValue:  reportCount,
		Threshold:     model.threshold,
		Timestamp:     ts,
	}
	if margin <= 0 {
		return res
	}

	res.IsAnomaly = true
	res.Confidence = math.Min(margin/0.5, 1.0)
	res.Severity = marginSeverity(margin)
	return res
}

func marginSeverity(margin float64) models.Severity {
	switch {
	case margin > 0.5:
		return models.SeverityCritical
	case margin > 0.3:
		return models.SeverityHigh
	case margin > 0.1:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// standardScaler centres and scales both features independently.
type standardScaler struct {
	mean [2]float64
	std  [2]float64
}

func fitScaler(samples [][2]float64) standardScaler {
	var s standardScaler
	n := float64(len(samples))
	for _, v := range samples {
		s.mean[0] += v[0]
		s.mean[1] += v[1]
	}
	s.mean[0] /= n
	s.mean[1] /= n
	for _, v := range samples {
		s.std[0] += (v[0] - s.mean[0]) * (v[0] - s.mean[0])
		s.std[1] += (v[1] - s.mean[1]) * (v[1] - s.mean[1])
	}
	s.std[0] = math.Sqrt(s.std[0] / n)
	s.std[1] = math.Sqrt(s.std[1] / n)
	if s.std[0] == 0 {
		s.std[0] = 1
	}
	if s.std[1] == 0 {
		s.std[1] = 1
	}
	return s
}

func (s standardScaler) transform(v [2]float64) [2]float64 {
	return [2]float64{(v[0] - s.mean[0]) / s.std[0], (v[1] - s.mean[1]) / s.std[1]}
}

// isolationForest is the standard Liu et al. construction: random-split
// trees over subsamples, anomaly score 2^(-E[pathLen]/c(n)).
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
}

type isoNode struct {
	feature  int
	split    float64
	left     *isoNode
	right    *isoNode
	size     int
	external bool
}

func buildForest(data [][2]float64, trees int, rng *rand.Rand) *isolationForest {
	sampleSize := forestSampleSize
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	f := &isolationForest{sampleSize: sampleSize}
	for t := 0; t < trees; t++ {
		sample := make([][2]float64, sampleSize)
		for i := range sample {
			sample[i] = data[rng.Intn(len(data))]
		}
		f.trees = append(f.trees, buildTree(sample, 0, heightLimit, rng))
	}
	return f
}

func buildTree(data [][2]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(data) <= 1 || allEqual(data) {
		return &isoNode{size: len(data), external: true}
	}

	feature := rng.Intn(2)
	lo, hi := data[0][feature], data[0][feature]
	for _, v := range data[1:] {
		if v[feature] < lo {
			lo = v[feature]
		}
		if v[feature] > hi {
			hi = v[feature]
		}
	}
	if lo == hi {
		feature = 1 - feature
		lo, hi = data[0][feature], data[0][feature]
		for _, v := range data[1:] {
			if v[feature] < lo {
				lo = v[feature]
			}
			if v[feature] > hi {
				hi = v[feature]
			}
		}
		if lo == hi {
			return &isoNode{size: len(data), external: true}
		}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][2]float64
	for _, v := range data {
		if v[feature] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(data), external: true}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildTree(left, depth+1, limit, rng),
		right:   buildTree(right, depth+1, limit, rng),
	}
}

func allEqual(data [][2]float64) bool {
	for _, v := range data[1:] {
		if v != data[0] {
			return false
		}
	}
	return true
}

func (f *isolationForest) score(v [2]float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, v, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.sampleSize))
}

func pathLength(n *isoNode, v [2]float64, depth float64) float64 {
	if n.external {
		return depth + avgPathLength(n.size)
	}
	if v[n.feature] < n.split {
		return pathLength(n.left, v, depth+1)
	}
	return pathLength(n.right, v, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n nodes.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
}
