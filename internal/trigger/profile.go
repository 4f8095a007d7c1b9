package trigger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProfileSnapshot is an immutable per-user view handed to the feature
// extractor. Rates are time-decayed fractions in [0,1].
type ProfileSnapshot struct {
	// SaveRate is the decayed fraction of recent decisions that were saves.
	SaveRate float64

	// SearchRate is the decayed fraction of recent decisions that were searches.
	SearchRate float64

	// Recency is 1.0 for a just-active user, decaying toward 0 with idle time.
	Recency float64

	// TopicTokens is the user's rolling topic signature.
	TopicTokens map[string]struct{}
}

// userProfile is the mutable per-user state. Counters decay exponentially
// with the configured half-life and are clamped at zero.
type userProfile struct {
	mu sync.Mutex

	saveCount   float64
	searchCount float64
	noneCount   float64

	// topics maps token to last-seen time, bounded by maxTopicTokens
	// with recency eviction.
	topics map[string]time.Time

	lastSeen time.Time
}

// ProfileConfig tunes the profile store.
type ProfileConfig struct {
	// HalfLife controls counter decay; after one half-life an untouched
	// counter has half its weight.
	HalfLife time.Duration

	// Retention is the idle window after which a profile is pruned.
	Retention time.Duration

	// PruneInterval is how often the janitor scans for stale profiles.
	PruneInterval time.Duration

	// MaxTopicTokens bounds the per-user topic signature.
	MaxTopicTokens int
}

// DefaultProfileConfig returns the default profile-store settings.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		HalfLife:       7 * 24 * time.Hour,
		Retention:      30 * 24 * time.Hour,
		PruneInterval:  time.Hour,
		MaxTopicTokens: 64,
	}
}

// Validate checks the profile configuration; failures are fatal at startup.
func (c ProfileConfig) Validate() error {
	if c.HalfLife <= 0 {
		return fmt.Errorf("profile half_life must be positive, got %v", c.HalfLife)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("profile retention must be positive, got %v", c.Retention)
	}
	if c.MaxTopicTokens < 1 {
		return fmt.Errorf("max_topic_tokens must be positive, got %d", c.MaxTopicTokens)
	}
	return nil
}

// ProfileStore maintains time-decayed rolling behavioral aggregates per
// user. Reads produce immutable snapshots for the feature extractor;
// updates are applied once per processed message under a per-user mutex,
// so same-user writes are serialized while different users proceed fully
// concurrently.
//
// Profiles are a cache, not a source of truth: a profile that fails its
// sanity check (NaN or negative counters) is reset to defaults.
type ProfileStore struct {
	cfg     ProfileConfig
	logger  *zap.Logger
	metrics *Metrics

	mu       sync.RWMutex
	profiles map[string]*userProfile

	janitorMu sync.Mutex
	running   bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewProfileStore creates a profile store. The pruning janitor does not
// start automatically; call StartJanitor.
func NewProfileStore(cfg ProfileConfig, metrics *Metrics, logger *zap.Logger) (*ProfileStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileStore{
		cfg:      cfg,
		logger:   logger.Named("profiles"),
		metrics:  metrics,
		profiles: make(map[string]*userProfile),
	}, nil
}

// Snapshot returns the user's current behavioral snapshot. Unknown users
// get a neutral snapshot with an empty topic signature.
func (s *ProfileStore) Snapshot(userID string, now time.Time) ProfileSnapshot {
	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return ProfileSnapshot{TopicTokens: map[string]struct{}{}}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s.corrupt(p) {
		s.reset(p, userID)
	}

	decay := s.decayFactor(p.lastSeen, now)
	save := p.saveCount * decay
	search := p.searchCount * decay
	none := p.noneCount * decay
	total := save + search + none

	snap := ProfileSnapshot{
		TopicTokens: make(map[string]struct{}, len(p.topics)),
	}
	if total > 0 {
		snap.SaveRate = save / total
		snap.SearchRate = search / total
	}
	if !p.lastSeen.IsZero() {
		idle := now.Sub(p.lastSeen)
		snap.Recency = math.Exp(-math.Ln2 * idle.Hours() / s.cfg.HalfLife.Hours())
	}
	for t := range p.topics {
		snap.TopicTokens[t] = struct{}{}
	}
	return snap
}

// Update applies one decision outcome to the user's profile: decayed
// counters advance, the topic signature absorbs the message tokens, and
// the last-seen timestamp moves forward. Exactly one update per processed
// message; the per-user mutex enforces single-writer discipline.
func (s *ProfileStore) Update(userID string, action Action, tokens []string, now time.Time) {
	s.mu.Lock()
	p, ok := s.profiles[userID]
	if !ok {
		p = &userProfile{topics: make(map[string]time.Time)}
		s.profiles[userID] = p
	}
	s.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if s.corrupt(p) {
		s.reset(p, userID)
	}

	decay := s.decayFactor(p.lastSeen, now)
	p.saveCount *= decay
	p.searchCount *= decay
	p.noneCount *= decay

	switch action {
	case ActionSave:
		p.saveCount++
	case ActionSearch:
		p.searchCount++
	default:
		p.noneCount++
	}

	for _, t := range tokens {
		p.topics[t] = now
	}
	s.evictTopics(p)
	p.lastSeen = now
}

// Prune removes profiles idle past the retention window and returns the
// number removed.
func (s *ProfileStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, p := range s.profiles {
		p.mu.Lock()
		stale := !p.lastSeen.IsZero() && now.Sub(p.lastSeen) > s.cfg.Retention
		p.mu.Unlock()
		if stale {
			delete(s.profiles, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("pruned stale profiles", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the number of tracked users.
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// StartJanitor launches periodic pruning. Idempotent.
func (s *ProfileStore) StartJanitor(ctx context.Context) {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()
	if s.running || s.cfg.PruneInterval <= 0 {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go func(stopCh, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.Prune(time.Now())
			}
		}
	}(s.stopCh, s.done)
}

// StopJanitor stops periodic pruning. Idempotent.
func (s *ProfileStore) StopJanitor() {
	s.janitorMu.Lock()
	if !s.running {
		s.janitorMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.janitorMu.Unlock()
	<-done
}

// decayFactor returns the exponential decay multiplier for the time since
// the last update.
func (s *ProfileStore) decayFactor(last time.Time, now time.Time) float64 {
	if last.IsZero() || !now.After(last) {
		return 1.0
	}
	elapsed := now.Sub(last)
	return math.Exp(-math.Ln2 * elapsed.Hours() / s.cfg.HalfLife.Hours())
}

// evictTopics bounds the topic signature by dropping the oldest tokens.
// Caller must hold p.mu.
func (s *ProfileStore) evictTopics(p *userProfile) {
	over := len(p.topics) - s.cfg.MaxTopicTokens
	if over <= 0 {
		return
	}
	type seen struct {
		token string
		at    time.Time
	}
	all := make([]seen, 0, len(p.topics))
	for t, at := range p.topics {
		all = append(all, seen{t, at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, old := range all[:over] {
		delete(p.topics, old.token)
	}
}

// corrupt reports whether the profile's counters violate their invariants.
// Caller must hold p.mu.
func (s *ProfileStore) corrupt(p *userProfile) bool {
	for _, v := range []float64{p.saveCount, p.searchCount, p.noneCount} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return true
		}
	}
	return false
}

// reset restores a corrupt profile to defaults. Caller must hold p.mu.
func (s *ProfileStore) reset(p *userProfile, userID string) {
	p.saveCount = 0
	p.searchCount = 0
	p.noneCount = 0
	p.topics = make(map[string]time.Time)
	s.logger.Warn("corrupt profile reset to defaults", zap.String("user_id", userID))
	if s.metrics != nil {
		s.metrics.ProfileResets.Inc()
	}
}
