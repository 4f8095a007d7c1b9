package trigger

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MinTrainingExamples is the smallest example set Train will accept.
// Below this the holdout split is too small for a meaningful gate.
const MinTrainingExamples = 10

// Model holds the parameters of one binary logistic-regression predictor.
// Models are immutable after training; Predict is pure.
type Model struct {
	// Weights has one entry per feature, in schema order.
	Weights []float64 `json:"weights"`

	// Bias is the intercept term.
	Bias float64 `json:"bias"`
}

// Predict returns the calibrated probability for fv.
func (m *Model) Predict(fv FeatureVector) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		if i < len(fv.Values) {
			z += w * fv.Values[i]
		}
	}
	return sigmoid(z)
}

// Contributions returns the top-k features by absolute weight-times-value
// contribution, largest first. Used for reasoning traces.
func (m *Model) Contributions(fv FeatureVector, k int) []FeatureContribution {
	contribs := make([]FeatureContribution, 0, len(m.Weights))
	for i, w := range m.Weights {
		if i >= len(fv.Values) || i >= len(featureNames) {
			break
		}
		c := w * fv.Values[i]
		if c == 0 {
			continue
		}
		contribs = append(contribs, FeatureContribution{
			Name:         featureNames[i],
			Value:        fv.Values[i],
			Contribution: c,
		})
	}
	sort.Slice(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Contribution) > math.Abs(contribs[j].Contribution)
	})
	if k > 0 && len(contribs) > k {
		contribs = contribs[:k]
	}
	return contribs
}

// ModelVersion is an immutable snapshot of both trained predictors plus
// training and validation metadata. Exactly one version is active at a
// time; superseded versions are retired, not deleted, so the classifier
// can roll back.
type ModelVersion struct {
	// ID is the unique version identifier (UUID).
	ID string `json:"id"`

	// Generation is a monotonically increasing training counter.
	Generation int `json:"generation"`

	// SchemaVersion is the feature schema the models were trained under.
	SchemaVersion int `json:"schema_version"`

	// Save is the save-likelihood predictor.
	Save *Model `json:"save"`

	// Search is the search-likelihood predictor.
	Search *Model `json:"search"`

	// TrainingSize is the number of examples used for fitting.
	TrainingSize int `json:"training_size"`

	// ValidationSize is the number of held-out examples.
	ValidationSize int `json:"validation_size"`

	// ValidationScore is the mean held-out accuracy of both predictors.
	ValidationScore float64 `json:"validation_score"`

	// TrainedAt is when training completed.
	TrainedAt time.Time `json:"trained_at"`
}

// TrainConfig tunes the training pass.
type TrainConfig struct {
	// Epochs is the number of gradient-descent passes over the data.
	Epochs int

	// LearningRate is the gradient step size.
	LearningRate float64

	// HoldoutFraction is the share of examples reserved for validation.
	HoldoutFraction float64

	// Seed makes the shuffle and split deterministic.
	Seed int64
}

// DefaultTrainConfig returns sensible training defaults.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:          200,
		LearningRate:    0.1,
		HoldoutFraction: 0.2,
		Seed:            1,
	}
}

// Train fits a candidate ModelVersion from a labeled example set.
//
// The examples are shuffled deterministically (per cfg.Seed), split into
// fit and holdout partitions, and two independent binary predictors are
// fitted: save-vs-rest and search-vs-rest. The returned version carries
// the mean held-out accuracy as its ValidationScore; promotion against the
// active version is the caller's responsibility (see Classifier.TryPromote).
//
// Degraded vectors and vectors from a different feature schema are skipped.
func Train(examples []TrainingExample, generation int, cfg TrainConfig) (*ModelVersion, error) {
	usable := make([]TrainingExample, 0, len(examples))
	for _, ex := range examples {
		if ex.Features.Degraded || ex.Features.SchemaVersion != FeatureSchemaVersion {
			continue
		}
		if len(ex.Features.Values) != featureCount {
			continue
		}
		usable = append(usable, ex)
	}
	if len(usable) < MinTrainingExamples {
		return nil, fmt.Errorf("%w: have %d usable, need %d", ErrInsufficientData, len(usable), MinTrainingExamples)
	}

	if cfg.Epochs <= 0 {
		cfg.Epochs = DefaultTrainConfig().Epochs
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultTrainConfig().LearningRate
	}
	if cfg.HoldoutFraction <= 0 || cfg.HoldoutFraction >= 1 {
		cfg.HoldoutFraction = DefaultTrainConfig().HoldoutFraction
	}

	shuffled := make([]TrainingExample, len(usable))
	copy(shuffled, usable)
	rng := rand.New(rand.NewSource(cfg.Seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	holdout := int(float64(len(shuffled)) * cfg.HoldoutFraction)
	if holdout < 1 {
		holdout = 1
	}
	fit := shuffled[holdout:]
	val := shuffled[:holdout]

	saveModel := fitBinary(fit, ActionSave, cfg, rng)
	searchModel := fitBinary(fit, ActionSearch, cfg, rng)

	score := (accuracy(saveModel, val, ActionSave) + accuracy(searchModel, val, ActionSearch)) / 2

	return &ModelVersion{
		ID:              uuid.New().String(),
		Generation:      generation,
		SchemaVersion:   FeatureSchemaVersion,
		Save:            saveModel,
		Search:          searchModel,
		TrainingSize:    len(fit),
		ValidationSize:  len(val),
		ValidationScore: score,
		TrainedAt:       time.Now().UTC(),
	}, nil
}

// fitBinary trains one logistic predictor with stochastic gradient descent,
// treating examples labeled positive as class 1 and everything else as 0.
func fitBinary(examples []TrainingExample, positive Action, cfg TrainConfig, rng *rand.Rand) *Model {
	m := &Model{Weights: make([]float64, featureCount)}
	order := make([]int, len(examples))
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			ex := examples[idx]
			y := 0.0
			if ex.Label == positive {
				y = 1.0
			}
			p := m.Predict(ex.Features)
			grad := p - y
			for i := range m.Weights {
				m.Weights[i] -= cfg.LearningRate * grad * ex.Features.Values[i]
			}
			m.Bias -= cfg.LearningRate * grad
		}
	}
	return m
}

// accuracy is the held-out fraction classified correctly at the 0.5 cut.
func accuracy(m *Model, val []TrainingExample, positive Action) float64 {
	if len(val) == 0 {
		return 0
	}
	correct := 0
	for _, ex := range val {
		predicted := m.Predict(ex.Features) >= 0.5
		actual := ex.Label == positive
		if predicted == actual {
			correct++
		}
	}
	return float64(correct) / float64(len(val))
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
