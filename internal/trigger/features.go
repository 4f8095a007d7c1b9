package trigger

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
)

// FeatureSchemaVersion identifies the feature vector layout. Bump when
// adding, removing or reordering features; model versions trained against
// an older schema are not comparable.
const FeatureSchemaVersion = 1

// Feature indices into FeatureVector.Values. The order is fixed and part
// of the schema.
const (
	featLengthLog = iota
	featWordCount
	featSentenceCount
	featAvgWordLen
	featQuestionMark
	featImperative
	featTechnicalRate
	featQuestionRate
	featRecallRate
	featSolutionRate
	featTurnIndex
	featTimeDeltaLog
	featNovelty
	featSaveRate
	featSearchRate
	featRecency
	featPlatform

	featureCount
)

// featureNames maps indices to stable names used in reasoning traces and
// feature attributions.
var featureNames = [featureCount]string{
	"length_log",
	"word_count",
	"sentence_count",
	"avg_word_len",
	"question_mark",
	"imperative",
	"technical_rate",
	"question_rate",
	"recall_rate",
	"solution_rate",
	"turn_index",
	"time_delta_log",
	"novelty",
	"save_rate",
	"search_rate",
	"recency",
	"platform",
}

// FeatureVector is a fixed-dimension, versioned numeric view of a message
// in its conversational and behavioral context. Vectors are ephemeral
// unless promoted to a TrainingExample.
type FeatureVector struct {
	// SchemaVersion is the layout version this vector was extracted under.
	SchemaVersion int `json:"schema_version"`

	// Values holds one entry per feature, in schema order.
	Values []float64 `json:"values"`

	// Degraded is true when extraction hit its time budget and the
	// vector is zero-filled rather than computed.
	Degraded bool `json:"degraded,omitempty"`
}

// Get returns the named feature value, or 0 when the name is unknown.
func (fv FeatureVector) Get(name string) float64 {
	for i, n := range featureNames {
		if n == name {
			return fv.Values[i]
		}
	}
	return 0
}

// zeroVector returns a degraded, zero-filled vector.
func zeroVector() FeatureVector {
	return FeatureVector{
		SchemaVersion: FeatureSchemaVersion,
		Values:        make([]float64, featureCount),
		Degraded:      true,
	}
}

// Vocabulary sets feeding the content-signal features. Overridable via
// ExtractorConfig for deployments with different domain language.
var (
	defaultTechnicalVocab = []string{
		"error", "bug", "config", "deploy", "server", "database", "api",
		"function", "code", "build", "docker", "token", "endpoint",
		"timeout", "crash", "log", "branch", "commit",
	}
	defaultQuestionVocab = []string{
		"what", "when", "where", "who", "how", "why", "which", "did",
	}
	defaultRecallVocab = []string{
		"remember", "recall", "ricorda", "saved", "note", "wrote",
		"mentioned", "told", "earlier", "before",
	}
	defaultSolutionVocab = []string{
		"fixed", "solved", "works", "solution", "resolved", "workaround",
		"turned", "answer",
	}
	defaultImperativeVerbs = []string{
		"remember", "save", "note", "store", "ricorda", "search", "find",
		"look", "memorize",
	}
)

// platformIndicators maps known platform tags to a stable indicator value.
// Unknown platforms fall back to 0.5 so the feature stays bounded.
var platformIndicators = map[string]float64{
	"":     0.0,
	"cli":  0.2,
	"ide":  0.4,
	"web":  0.6,
	"chat": 0.8,
	"api":  1.0,
}

// ExtractorConfig tunes the feature extractor.
type ExtractorConfig struct {
	// Budget caps wall time per extraction. On expiry the extractor
	// returns a degraded zero vector instead of failing.
	Budget time.Duration

	// Vocabulary overrides; nil keeps the built-in sets.
	TechnicalVocab  []string
	QuestionVocab   []string
	RecallVocab     []string
	SolutionVocab   []string
	ImperativeVerbs []string
}

// Extractor turns a message plus its conversational and behavioral context
// into a FeatureVector. Extraction is deterministic for identical inputs
// and performs no I/O; the time budget guards pathological message sizes.
type Extractor struct {
	budget     time.Duration
	technical  map[string]struct{}
	question   map[string]struct{}
	recall     map[string]struct{}
	solution   map[string]struct{}
	imperative map[string]struct{}
}

// NewExtractor creates a feature extractor. A zero Budget disables the
// time guard.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	pick := func(override, fallback []string) map[string]struct{} {
		src := fallback
		if override != nil {
			src = override
		}
		set := make(map[string]struct{}, len(src))
		for _, w := range src {
			set[strings.ToLower(w)] = struct{}{}
		}
		return set
	}
	return &Extractor{
		budget:     cfg.Budget,
		technical:  pick(cfg.TechnicalVocab, defaultTechnicalVocab),
		question:   pick(cfg.QuestionVocab, defaultQuestionVocab),
		recall:     pick(cfg.RecallVocab, defaultRecallVocab),
		solution:   pick(cfg.SolutionVocab, defaultSolutionVocab),
		imperative: pick(cfg.ImperativeVerbs, defaultImperativeVerbs),
	}
}

// Extract computes the feature vector for msg given its conversation and
// the user's profile snapshot. The context and the configured budget bound
// execution; on expiry a degraded zero vector is returned.
func (e *Extractor) Extract(ctx context.Context, msg Message, conv ConversationContext, profile ProfileSnapshot) FeatureVector {
	if e.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.budget)
		defer cancel()
	}

	fv := FeatureVector{
		SchemaVersion: FeatureSchemaVersion,
		Values:        make([]float64, featureCount),
	}
	tokens := Tokenize(msg.Text)

	// Lexical features.
	fv.Values[featLengthLog] = math.Log1p(float64(len(msg.Text)))
	fv.Values[featWordCount] = float64(len(tokens))
	fv.Values[featSentenceCount] = float64(sentenceCount(msg.Text))
	if len(tokens) > 0 {
		total := 0
		for _, t := range tokens {
			total += len(t)
		}
		fv.Values[featAvgWordLen] = float64(total) / float64(len(tokens))
	}
	if strings.Contains(msg.Text, "?") {
		fv.Values[featQuestionMark] = 1
	}
	if len(tokens) > 0 {
		if _, ok := e.imperative[tokens[0]]; ok {
			fv.Values[featImperative] = 1
		}
	}

	if expired(ctx) {
		return zeroVector()
	}

	// Content signals: vocabulary hit rates.
	fv.Values[featTechnicalRate] = hitRate(tokens, e.technical)
	fv.Values[featQuestionRate] = hitRate(tokens, e.question)
	fv.Values[featRecallRate] = hitRate(tokens, e.recall)
	fv.Values[featSolutionRate] = hitRate(tokens, e.solution)

	// Positional features.
	fv.Values[featTurnIndex] = math.Min(float64(conv.TurnIndex())/50.0, 1.0)
	if last := conv.LastTimestamp(); !last.IsZero() && msg.Timestamp.After(last) {
		delta := msg.Timestamp.Sub(last).Seconds()
		// Log-scaled and capped at roughly one day.
		fv.Values[featTimeDeltaLog] = math.Min(math.Log1p(delta)/math.Log1p(86400), 1.0)
	}

	if expired(ctx) {
		return zeroVector()
	}

	// Novelty: Jaccard distance between the message tokens and the
	// user's rolling topic signature.
	fv.Values[featNovelty] = jaccardDistance(tokens, profile.TopicTokens)

	// Behavioral features from the profile snapshot.
	fv.Values[featSaveRate] = profile.SaveRate
	fv.Values[featSearchRate] = profile.SearchRate
	fv.Values[featRecency] = profile.Recency

	// Platform indicator.
	if v, ok := platformIndicators[strings.ToLower(msg.Platform)]; ok {
		fv.Values[featPlatform] = v
	} else {
		fv.Values[featPlatform] = 0.5
	}

	return fv
}

// Tokenize lowercases text and splits it on non-letter, non-digit runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func expired(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func hitRate(tokens []string, vocab map[string]struct{}) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokens {
		if _, ok := vocab[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

func sentenceCount(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		count = 1
	}
	return count
}

// jaccardDistance returns one minus the Jaccard similarity of the message
// tokens and the topic signature. An empty signature means everything is novel.
func jaccardDistance(tokens []string, signature map[string]struct{}) float64 {
	if len(signature) == 0 {
		return 1.0
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	if len(set) == 0 {
		return 1.0
	}
	intersection := 0
	for t := range set {
		if _, ok := signature[t]; ok {
			intersection++
		}
	}
	union := len(set) + len(signature) - intersection
	return 1.0 - float64(intersection)/float64(union)
}
