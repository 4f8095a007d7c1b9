package trigger

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultTopK is the number of feature attributions attached to a prediction.
const DefaultTopK = 3

// Classifier holds the active ModelVersion behind an atomic pointer and
// serves pure, lock-free inference. Promotion swaps the whole version at
// once, so concurrent predictions observe either the old or the new
// parameters, never a mixture. Retired versions are kept in a bounded
// history for rollback.
type Classifier struct {
	active atomic.Pointer[ModelVersion]

	mu          sync.Mutex
	retired     []*ModelVersion
	historySize int
	generation  int

	logger *zap.Logger
}

// NewClassifier creates a classifier with no active model. Until the first
// promotion, Available reports false and callers degrade to rule-only
// decisions. historySize bounds the retired-version list (minimum 1).
func NewClassifier(historySize int, logger *zap.Logger) *Classifier {
	if historySize < 1 {
		historySize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		historySize: historySize,
		logger:      logger.Named("classifier"),
	}
}

// Available reports whether an active model version exists.
func (c *Classifier) Available() bool {
	return c.active.Load() != nil
}

// Active returns the current active version, or nil when none exists.
func (c *Classifier) Active() *ModelVersion {
	return c.active.Load()
}

// Generation returns the next training generation number and advances it.
func (c *Classifier) NextGeneration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return c.generation
}

// Predict runs both predictors over fv against the current active version.
// Returns false when no version is active or the vector is degraded; the
// caller then falls back to rule-only signals. Inference never mutates
// state and is safe under concurrent promotion.
func (c *Classifier) Predict(fv FeatureVector) (Prediction, bool) {
	mv := c.active.Load()
	if mv == nil || fv.Degraded || len(fv.Values) != featureCount {
		return Prediction{}, false
	}

	saveProb := mv.Save.Predict(fv)
	searchProb := mv.Search.Predict(fv)

	// Attribution comes from the dominant predictor.
	dominant := mv.Save
	if searchProb > saveProb {
		dominant = mv.Search
	}

	return Prediction{
		SaveProb:       saveProb,
		SearchProb:     searchProb,
		ModelVersionID: mv.ID,
		TopFeatures:    dominant.Contributions(fv, DefaultTopK),
	}, true
}

// TryPromote applies the validation gate: the candidate becomes active only
// if its validation score meets or exceeds the active version's score minus
// tolerance. A rejected candidate is discarded and logged with its metrics.
// Returns true when the candidate was promoted.
func (c *Classifier) TryPromote(candidate *ModelVersion, tolerance float64) bool {
	if candidate == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.active.Load()
	if current != nil && candidate.ValidationScore < current.ValidationScore-tolerance {
		c.logger.Warn("candidate model rejected by validation gate",
			zap.String("candidate_id", candidate.ID),
			zap.Float64("candidate_score", candidate.ValidationScore),
			zap.Float64("active_score", current.ValidationScore),
			zap.Float64("tolerance", tolerance),
			zap.Int("training_size", candidate.TrainingSize),
			zap.Int("validation_size", candidate.ValidationSize))
		return false
	}

	if current != nil {
		c.retire(current)
	}
	c.active.Store(candidate)

	c.logger.Info("model version promoted",
		zap.String("model_id", candidate.ID),
		zap.Int("generation", candidate.Generation),
		zap.Float64("validation_score", candidate.ValidationScore),
		zap.Int("training_size", candidate.TrainingSize))
	return true
}

// Rollback restores the most recently retired version as active. The
// displaced version joins the retired history. Returns ErrNoRetiredModel
// when the history is empty.
func (c *Classifier) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.retired) == 0 {
		return ErrNoRetiredModel
	}
	restored := c.retired[len(c.retired)-1]
	c.retired = c.retired[:len(c.retired)-1]

	if current := c.active.Load(); current != nil {
		c.retire(current)
	}
	c.active.Store(restored)

	c.logger.Info("model version rolled back",
		zap.String("model_id", restored.ID),
		zap.Int("generation", restored.Generation))
	return nil
}

// retire appends mv to the history, evicting the oldest entry past the
// bound. Caller must hold c.mu.
func (c *Classifier) retire(mv *ModelVersion) {
	c.retired = append(c.retired, mv)
	if len(c.retired) > c.historySize {
		c.retired = c.retired[len(c.retired)-c.historySize:]
	}
}
