package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// exampleBuffer is a bounded FIFO ring of training examples. Offering past
// capacity drops the oldest entry and counts the drop. All methods are
// safe for concurrent use.
type exampleBuffer struct {
	mu       sync.Mutex
	entries  []TrainingExample
	capacity int
	dropped  uint64

	// pendingSinceTrain counts offers since the last training pass, so a
	// batch-size crossing triggers exactly one retrain.
	pendingSinceTrain int
}

func newExampleBuffer(capacity int) *exampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &exampleBuffer{
		entries:  make([]TrainingExample, 0, capacity),
		capacity: capacity,
	}
}

// offer appends an example, dropping the oldest on overflow. Returns the
// pending-since-train count after the append.
func (b *exampleBuffer) offer(ex TrainingExample) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		excess := len(b.entries) - b.capacity + 1
		b.entries = b.entries[excess:]
		b.dropped += uint64(excess)
	}
	b.entries = append(b.entries, ex)
	b.pendingSinceTrain++
	return b.pendingSinceTrain
}

// snapshotForTraining copies the full buffer contents and resets the
// pending counter. The buffer itself is retained so subsequent training
// passes see a rolling window, not just the newest batch.
func (b *exampleBuffer) snapshotForTraining() []TrainingExample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TrainingExample, len(b.entries))
	copy(out, b.entries)
	b.pendingSinceTrain = 0
	return out
}

func (b *exampleBuffer) stats() (size, pending int, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), b.pendingSinceTrain, b.dropped
}

// LearnerConfig tunes the online learning loop.
type LearnerConfig struct {
	// QueueCapacity bounds the training-example buffer.
	QueueCapacity int

	// BatchSize is the pending-example count that triggers a retrain.
	BatchSize int

	// Interval is the periodic fallback trigger; a timer pass only
	// retrains when at least MinTimerBatch examples are pending.
	Interval time.Duration

	// MinTimerBatch is the minimum pending count for a timer-driven pass.
	MinTimerBatch int

	// ValidationTolerance is how much worse than the active version a
	// candidate's validation score may be and still promote.
	ValidationTolerance float64

	// Train tunes the fitting pass itself.
	Train TrainConfig
}

// DefaultLearnerConfig returns the default learning-loop settings.
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{
		QueueCapacity:       512,
		BatchSize:           50,
		Interval:            5 * time.Minute,
		MinTimerBatch:       10,
		ValidationTolerance: 0.02,
		Train:               DefaultTrainConfig(),
	}
}

// Validate checks the learner configuration; failures are fatal at startup.
func (c LearnerConfig) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("retrain_batch_size must be positive, got %d", c.BatchSize)
	}
	if c.BatchSize > c.QueueCapacity {
		return fmt.Errorf("retrain_batch_size %d exceeds queue_capacity %d", c.BatchSize, c.QueueCapacity)
	}
	if c.ValidationTolerance < 0 {
		return fmt.Errorf("validation_tolerance cannot be negative, got %v", c.ValidationTolerance)
	}
	return nil
}

// Learner runs the online learning loop: it accumulates training examples
// in a bounded buffer and retrains candidate model versions in the
// background, fully decoupled from the live decision path. Completed
// candidates pass through the classifier's validation gate before becoming
// active.
//
// Thread safety: all public methods are safe for concurrent use. Start and
// Stop are idempotent.
type Learner struct {
	cfg        LearnerConfig
	buffer     *exampleBuffer
	classifier *Classifier
	metrics    *Metrics
	logger     *zap.Logger

	// notify wakes the loop when a batch threshold is crossed. Buffered
	// size 1 so offers never block on the loop.
	notify chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	offered uint64
}

// NewLearner creates a learning loop bound to a classifier. The loop does
// not start automatically; call Start.
func NewLearner(cfg LearnerConfig, classifier *Classifier, metrics *Metrics, logger *zap.Logger) (*Learner, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid learner config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{
		cfg:        cfg,
		buffer:     newExampleBuffer(cfg.QueueCapacity),
		classifier: classifier,
		metrics:    metrics,
		logger:     logger.Named("learner"),
		notify:     make(chan struct{}, 1),
	}, nil
}

// Offer enqueues a training example. Never blocks; on a full buffer the
// oldest example is dropped and counted. Returns the total number of
// examples offered so far, which the engine uses for auto-promotion.
func (l *Learner) Offer(ex TrainingExample) uint64 {
	pending := l.buffer.offer(ex)

	l.mu.Lock()
	l.offered++
	total := l.offered
	l.mu.Unlock()

	if l.metrics != nil {
		size, _, dropped := l.buffer.stats()
		l.metrics.SetQueueDepth(size, dropped)
		l.metrics.ExamplesOffered.WithLabelValues(string(ex.Provenance)).Inc()
	}

	if pending >= l.cfg.BatchSize {
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
	return total
}

// Offered returns the total number of examples offered since construction.
func (l *Learner) Offered() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offered
}

// QueueStats returns the current buffer size, the pending-since-train
// count, and the cumulative dropped-example count.
func (l *Learner) QueueStats() (size, pending int, dropped uint64) {
	return l.buffer.stats()
}

// Start launches the background loop. Idempotent.
func (l *Learner) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(ctx, l.stopCh, l.done)
	l.logger.Info("learner started",
		zap.Int("batch_size", l.cfg.BatchSize),
		zap.Duration("interval", l.cfg.Interval))
}

// Stop signals the loop to exit and waits for the current pass, if any,
// to finish. Idempotent.
func (l *Learner) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	done := l.done
	l.mu.Unlock()

	<-done
	l.logger.Info("learner stopped")
}

func (l *Learner) run(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if l.cfg.Interval > 0 {
		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-l.notify:
			l.trainOnce("batch")
		case <-tick:
			_, pending, _ := l.buffer.stats()
			if pending >= l.cfg.MinTimerBatch {
				l.trainOnce("timer")
			}
		}
	}
}

// trainOnce runs one retraining pass: snapshot the buffer, fit a candidate,
// and push it through the validation gate. Failures keep the previous
// active version and are logged, never propagated to the decision path.
func (l *Learner) trainOnce(reason string) {
	examples := l.buffer.snapshotForTraining()
	start := time.Now()

	cfg := l.cfg.Train
	// Vary the shuffle per generation while staying reproducible.
	generation := l.classifier.NextGeneration()
	cfg.Seed += int64(generation)

	candidate, err := Train(examples, generation, cfg)
	if err != nil {
		l.logger.Warn("training pass failed",
			zap.String("reason", reason),
			zap.Int("examples", len(examples)),
			zap.Error(err))
		if l.metrics != nil {
			l.metrics.Retrains.WithLabelValues("failed").Inc()
		}
		return
	}

	promoted := l.classifier.TryPromote(candidate, l.cfg.ValidationTolerance)
	outcome := "rejected"
	if promoted {
		outcome = "promoted"
	}
	if l.metrics != nil {
		l.metrics.Retrains.WithLabelValues(outcome).Inc()
	}
	l.logger.Info("retraining pass completed",
		zap.String("reason", reason),
		zap.String("outcome", outcome),
		zap.String("candidate_id", candidate.ID),
		zap.Float64("validation_score", candidate.ValidationScore),
		zap.Int("examples", len(examples)),
		zap.Duration("duration", time.Since(start)))
}
