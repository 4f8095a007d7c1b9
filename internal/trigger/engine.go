package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineConfig aggregates the configuration of every engine component.
type EngineConfig struct {
	Fusion    FusionConfig
	Extractor ExtractorConfig
	Learner   LearnerConfig
	Profiles  ProfileConfig

	// CustomRules are appended to the built-in rule set.
	CustomRules []Rule

	// AuditCapacity bounds the decision audit ring used for feedback
	// correlation.
	AuditCapacity int

	// ModelHistory bounds the retired model-version list kept for rollback.
	ModelHistory int
}

// DefaultEngineConfig returns a complete default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Fusion:        DefaultFusionConfig(),
		Extractor:     ExtractorConfig{Budget: 50 * time.Millisecond},
		Learner:       DefaultLearnerConfig(),
		Profiles:      DefaultProfileConfig(),
		AuditCapacity: 1024,
		ModelHistory:  3,
	}
}

// Validate checks the full configuration; any failure is fatal at startup.
func (c EngineConfig) Validate() error {
	if err := c.Fusion.Validate(); err != nil {
		return err
	}
	if err := c.Learner.Validate(); err != nil {
		return err
	}
	if err := c.Profiles.Validate(); err != nil {
		return err
	}
	if c.AuditCapacity < 1 {
		return fmt.Errorf("audit_capacity must be positive, got %d", c.AuditCapacity)
	}
	return nil
}

// auditEntry pairs a decision with the feature vector that produced it.
type auditEntry struct {
	decision Decision
	features FeatureVector
}

// decisionRing is a bounded id-addressable FIFO of recent decisions.
type decisionRing struct {
	mu       sync.Mutex
	entries  map[string]auditEntry
	order    []string
	capacity int
}

func newDecisionRing(capacity int) *decisionRing {
	return &decisionRing{
		entries:  make(map[string]auditEntry, capacity),
		capacity: capacity,
	}
}

func (r *decisionRing) put(e auditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
	}
	r.entries[e.decision.ID] = e
	r.order = append(r.order, e.decision.ID)
}

func (r *decisionRing) get(id string) (auditEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// ModelVersionInfo is the inspection view of a model version, without the
// parameter payload.
type ModelVersionInfo struct {
	ID              string    `json:"id"`
	Generation      int       `json:"generation"`
	SchemaVersion   int       `json:"schema_version"`
	TrainingSize    int       `json:"training_size"`
	ValidationSize  int       `json:"validation_size"`
	ValidationScore float64   `json:"validation_score"`
	TrainedAt       time.Time `json:"trained_at"`
}

// EngineStats is the engine's inspection surface.
type EngineStats struct {
	Mode              Mode              `json:"mode"`
	ActiveModel       *ModelVersionInfo `json:"active_model,omitempty"`
	DecisionCounts    map[Mode]uint64   `json:"decision_counts"`
	FeedbackConfirmed uint64            `json:"feedback_confirmed"`
	FeedbackCorrected uint64            `json:"feedback_corrected"`
	ExamplesOffered   uint64            `json:"examples_offered"`
	QueueDepth        int               `json:"queue_depth"`
	DroppedExamples   uint64            `json:"dropped_examples"`
	AutoPromoted      bool              `json:"auto_promoted"`
	TrackedUsers      int               `json:"tracked_users"`
}

// Engine is the hybrid trigger decision engine facade. It wires the
// feature extractor, rule engine, classifier, arbiter, learner and profile
// store together behind the evaluate/feedback/reconfigure/inspect surface.
//
// Evaluate calls for different users run fully concurrently; same-user
// profile updates are serialized by the profile store. The learning loop
// runs in the background and never blocks the decision path.
type Engine struct {
	fusion atomic.Pointer[FusionConfig]

	extractor  *Extractor
	rules      *RuleEngine
	classifier *Classifier
	learner    *Learner
	profiles   *ProfileStore
	audit      *decisionRing

	metrics *Metrics
	logger  *zap.Logger

	statsMu           sync.Mutex
	decisionCounts    map[Mode]uint64
	feedbackConfirmed uint64
	feedbackCorrected uint64

	autoPromoted atomic.Bool
}

// NewEngine constructs the engine from a validated configuration. metrics
// may be nil to disable instrumentation; logger may be nil for silence.
func NewEngine(cfg EngineConfig, metrics *Metrics, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("trigger")

	rules, err := NewRuleEngine(cfg.CustomRules...)
	if err != nil {
		return nil, fmt.Errorf("building rule engine: %w", err)
	}
	classifier := NewClassifier(cfg.ModelHistory, logger)
	learner, err := NewLearner(cfg.Learner, classifier, metrics, logger)
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileStore(cfg.Profiles, metrics, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		extractor:      NewExtractor(cfg.Extractor),
		rules:          rules,
		classifier:     classifier,
		learner:        learner,
		profiles:       profiles,
		audit:          newDecisionRing(cfg.AuditCapacity),
		metrics:        metrics,
		logger:         logger,
		decisionCounts: make(map[Mode]uint64),
	}
	fusion := cfg.Fusion
	e.fusion.Store(&fusion)
	return e, nil
}

// Start launches the background learner and the profile janitor.
func (e *Engine) Start(ctx context.Context) {
	e.learner.Start(ctx)
	e.profiles.StartJanitor(ctx)
}

// Close stops all background work. Safe to call more than once.
func (e *Engine) Close() {
	e.learner.Stop()
	e.profiles.StopJanitor()
}

// Evaluate classifies one message into a Decision. Classifier trouble and
// extraction timeouts degrade to rule-only signals; the only error returns
// are invalid input and context cancellation.
func (e *Engine) Evaluate(ctx context.Context, msg Message, conv ConversationContext, userID string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if userID == "" {
		return Decision{}, ErrEmptyUserID
	}
	if strings.TrimSpace(msg.Text) == "" {
		return Decision{}, ErrEmptyMessage
	}

	start := time.Now()
	now := msg.Timestamp
	if now.IsZero() {
		now = start.UTC()
	}

	snapshot := e.profiles.Snapshot(userID, now)
	fv := e.extractor.Extract(ctx, msg, conv, snapshot)
	if fv.Degraded {
		if e.metrics != nil {
			e.metrics.DegradedExtractions.Inc()
		}
		e.logger.Warn("feature extraction degraded",
			zap.String("user_id", userID),
			zap.Int("text_len", len(msg.Text)))
	}

	matches := e.rules.Match(msg.Text)
	pred, predOK := e.classifier.Predict(fv)

	cfg := *e.fusion.Load()
	v := arbitrate(cfg, matches, pred, predOK)

	decision := Decision{
		ID:         uuid.New().String(),
		UserID:     userID,
		Action:     v.action,
		Confidence: v.confidence,
		Reasoning:  fmt.Sprintf("%s: %s", cfg.Mode, v.reasoning),
		Mode:       cfg.Mode,
		Degraded:   fv.Degraded,
		Timestamp:  now,
	}
	if v.usedModel || v.diverged {
		decision.ModelVersionID = pred.ModelVersionID
	}

	e.audit.put(auditEntry{decision: decision, features: fv})
	e.profiles.Update(userID, v.action, Tokenize(msg.Text), now)

	if cfg.Mode == ModeLearning && v.diverged {
		total := e.learner.Offer(TrainingExample{
			Features:   fv,
			Label:      v.action,
			Provenance: ProvenanceRuleDivergence,
			Timestamp:  now,
		})
		e.maybeAutoPromote(cfg, total)
	}

	e.statsMu.Lock()
	e.decisionCounts[cfg.Mode]++
	e.statsMu.Unlock()
	if e.metrics != nil {
		e.metrics.Decisions.WithLabelValues(string(cfg.Mode), string(v.action)).Inc()
		e.metrics.EvaluateDuration.Observe(time.Since(start).Seconds())
	}

	e.logger.Debug("decision",
		zap.String("decision_id", decision.ID),
		zap.String("user_id", userID),
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("mode", string(cfg.Mode)))

	return decision, nil
}

// Feedback records the user's correction for a past decision, producing
// exactly one TrainingExample tied to the decision's stored feature
// vector. Returns ErrDecisionNotFound when the decision has been evicted
// from the audit ring.
func (e *Engine) Feedback(decisionID string, actual Action) error {
	if _, err := ParseAction(string(actual)); err != nil {
		return err
	}
	entry, ok := e.audit.get(decisionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDecisionNotFound, decisionID)
	}

	outcome := "corrected"
	e.statsMu.Lock()
	if entry.decision.Action == actual {
		e.feedbackConfirmed++
		outcome = "confirmed"
	} else {
		e.feedbackCorrected++
	}
	e.statsMu.Unlock()
	if e.metrics != nil {
		e.metrics.Feedback.WithLabelValues(outcome).Inc()
	}

	total := e.learner.Offer(TrainingExample{
		Features:   entry.features,
		Label:      actual,
		Provenance: ProvenanceFeedback,
		Timestamp:  time.Now().UTC(),
	})
	e.maybeAutoPromote(*e.fusion.Load(), total)

	e.logger.Info("feedback recorded",
		zap.String("decision_id", decisionID),
		zap.String("original", string(entry.decision.Action)),
		zap.String("actual", string(actual)))
	return nil
}

// Reconfigure atomically replaces the fusion configuration. Invalid
// configurations are rejected and the previous one stays active.
func (e *Engine) Reconfigure(cfg FusionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	old := e.fusion.Load()
	e.fusion.Store(&cfg)
	e.logger.Info("engine reconfigured",
		zap.String("old_mode", string(old.Mode)),
		zap.String("mode", string(cfg.Mode)),
		zap.Float64("rule_weight", cfg.RuleWeight),
		zap.Float64("ml_weight", cfg.MLWeight))
	return nil
}

// FusionSnapshot returns the current fusion configuration.
func (e *Engine) FusionSnapshot() FusionConfig {
	return *e.fusion.Load()
}

// Rollback restores the most recently retired model version.
func (e *Engine) Rollback() error {
	return e.classifier.Rollback()
}

// Inspect returns the engine's observable state: active model metadata,
// per-mode decision counts, feedback accuracy counters and queue health.
func (e *Engine) Inspect() EngineStats {
	stats := EngineStats{
		Mode:           e.fusion.Load().Mode,
		DecisionCounts: make(map[Mode]uint64),
		AutoPromoted:   e.autoPromoted.Load(),
		TrackedUsers:   e.profiles.Len(),
	}

	e.statsMu.Lock()
	for m, n := range e.decisionCounts {
		stats.DecisionCounts[m] = n
	}
	stats.FeedbackConfirmed = e.feedbackConfirmed
	stats.FeedbackCorrected = e.feedbackCorrected
	e.statsMu.Unlock()

	if mv := e.classifier.Active(); mv != nil {
		stats.ActiveModel = &ModelVersionInfo{
			ID:              mv.ID,
			Generation:      mv.Generation,
			SchemaVersion:   mv.SchemaVersion,
			TrainingSize:    mv.TrainingSize,
			ValidationSize:  mv.ValidationSize,
			ValidationScore: mv.ValidationScore,
			TrainedAt:       mv.TrainedAt,
		}
	}

	size, _, dropped := e.learner.QueueStats()
	stats.QueueDepth = size
	stats.DroppedExamples = dropped
	stats.ExamplesOffered = e.learner.Offered()
	return stats
}

// maybeAutoPromote switches learning mode to hybrid once the accumulated
// example count crosses the configured threshold. This is the engine's one
// self-triggered behavior; it fires at most once per process.
func (e *Engine) maybeAutoPromote(cfg FusionConfig, total uint64) {
	if cfg.Mode != ModeLearning || cfg.AutoPromoteThreshold <= 0 {
		return
	}
	if total < uint64(cfg.AutoPromoteThreshold) {
		return
	}
	if !e.autoPromoted.CompareAndSwap(false, true) {
		return
	}
	next := cfg
	next.Mode = ModeHybrid
	e.fusion.Store(&next)
	if e.metrics != nil {
		e.metrics.AutoPromotions.Inc()
	}
	e.logger.Info("auto-promoted from learning to hybrid",
		zap.Uint64("examples", total),
		zap.Int("threshold", cfg.AutoPromoteThreshold))
}
