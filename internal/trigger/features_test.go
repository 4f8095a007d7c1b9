package trigger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featuresTestMessage(text string) Message {
	return Message{
		Text:      text,
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Platform:  "cli",
	}
}

func TestExtractor_Deterministic(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	msg := featuresTestMessage("remember that the staging database lives on port 5432")
	conv := ConversationContext{
		SessionID: "s1",
		Messages: []Message{
			{Text: "hi", Timestamp: msg.Timestamp.Add(-30 * time.Second)},
		},
	}
	profile := ProfileSnapshot{
		SaveRate:    0.4,
		SearchRate:  0.1,
		Recency:     0.9,
		TopicTokens: map[string]struct{}{"database": {}, "staging": {}},
	}

	first := e.Extract(context.Background(), msg, conv, profile)
	for i := 0; i < 10; i++ {
		got := e.Extract(context.Background(), msg, conv, profile)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, FeatureSchemaVersion, first.SchemaVersion)
	assert.Len(t, first.Values, featureCount)
	assert.False(t, first.Degraded)
}

func TestExtractor_Features(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	t.Run("lexical", func(t *testing.T) {
		fv := e.Extract(context.Background(), featuresTestMessage("what port does the api use?"), ConversationContext{}, ProfileSnapshot{})
		assert.Equal(t, 1.0, fv.Get("question_mark"))
		assert.Equal(t, 6.0, fv.Get("word_count"))
		assert.Greater(t, fv.Get("length_log"), 0.0)
	})

	t.Run("imperative leading verb", func(t *testing.T) {
		fv := e.Extract(context.Background(), featuresTestMessage("remember the deploy password"), ConversationContext{}, ProfileSnapshot{})
		assert.Equal(t, 1.0, fv.Get("imperative"))

		fv = e.Extract(context.Background(), featuresTestMessage("the deploy password is secret"), ConversationContext{}, ProfileSnapshot{})
		assert.Equal(t, 0.0, fv.Get("imperative"))
	})

	t.Run("content signals", func(t *testing.T) {
		fv := e.Extract(context.Background(), featuresTestMessage("error in the database config"), ConversationContext{}, ProfileSnapshot{})
		assert.Greater(t, fv.Get("technical_rate"), 0.0)
		assert.Equal(t, 0.0, fv.Get("recall_rate"))
	})

	t.Run("positional", func(t *testing.T) {
		conv := ConversationContext{Messages: []Message{
			{Text: "a", Timestamp: now.Add(-2 * time.Minute)},
			{Text: "b", Timestamp: now.Add(-time.Minute)},
		}}
		msg := Message{Text: "and another thing", Timestamp: now}
		fv := e.Extract(context.Background(), msg, conv, ProfileSnapshot{})
		assert.InDelta(t, 2.0/50.0, fv.Get("turn_index"), 1e-9)
		assert.Greater(t, fv.Get("time_delta_log"), 0.0)
		assert.LessOrEqual(t, fv.Get("time_delta_log"), 1.0)
	})

	t.Run("novelty against topic signature", func(t *testing.T) {
		known := ProfileSnapshot{TopicTokens: map[string]struct{}{
			"docker": {}, "compose": {}, "stack": {},
		}}
		familiar := e.Extract(context.Background(), featuresTestMessage("docker compose stack"), ConversationContext{}, known)
		novel := e.Extract(context.Background(), featuresTestMessage("gardening tips please"), ConversationContext{}, known)
		assert.Less(t, familiar.Get("novelty"), novel.Get("novelty"))
		assert.Equal(t, 1.0, novel.Get("novelty"))
	})

	t.Run("behavioral passthrough", func(t *testing.T) {
		profile := ProfileSnapshot{SaveRate: 0.3, SearchRate: 0.2, Recency: 0.8, TopicTokens: map[string]struct{}{}}
		fv := e.Extract(context.Background(), featuresTestMessage("hello"), ConversationContext{}, profile)
		assert.Equal(t, 0.3, fv.Get("save_rate"))
		assert.Equal(t, 0.2, fv.Get("search_rate"))
		assert.Equal(t, 0.8, fv.Get("recency"))
	})

	t.Run("platform indicator", func(t *testing.T) {
		cli := e.Extract(context.Background(), featuresTestMessage("hello"), ConversationContext{}, ProfileSnapshot{})
		assert.Equal(t, 0.2, cli.Get("platform"))

		unknown := Message{Text: "hello", Timestamp: now, Platform: "smartwatch"}
		fv := e.Extract(context.Background(), unknown, ConversationContext{}, ProfileSnapshot{})
		assert.Equal(t, 0.5, fv.Get("platform"))
	})
}

func TestExtractor_DegradedOnExpiredContext(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fv := e.Extract(ctx, featuresTestMessage("remember this"), ConversationContext{}, ProfileSnapshot{})
	assert.True(t, fv.Degraded)
	assert.Len(t, fv.Values, featureCount)
	for _, v := range fv.Values {
		assert.Zero(t, v)
	}
}

func TestExtractor_BudgetOnHugeInput(t *testing.T) {
	e := NewExtractor(ExtractorConfig{Budget: time.Nanosecond})
	huge := featuresTestMessage(strings.Repeat("word ", 200000))

	start := time.Now()
	fv := e.Extract(context.Background(), huge, ConversationContext{}, ProfileSnapshot{})
	elapsed := time.Since(start)

	// A nanosecond budget cannot cover tokenizing a megabyte of text, so
	// the vector must come back degraded, and quickly.
	assert.True(t, fv.Degraded)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestExtractor_CustomVocabulary(t *testing.T) {
	e := NewExtractor(ExtractorConfig{
		TechnicalVocab: []string{"warp", "nacelle"},
	})
	fv := e.Extract(context.Background(), featuresTestMessage("the warp nacelle is offline"), ConversationContext{}, ProfileSnapshot{})
	assert.InDelta(t, 2.0/5.0, fv.Get("technical_rate"), 1e-9)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, WORLD! 42"))
	assert.Empty(t, Tokenize("  ...  "))
}

func TestFeatureNamesComplete(t *testing.T) {
	for i, name := range featureNames {
		require.NotEmpty(t, name, "feature %d has no name", i)
	}
}
