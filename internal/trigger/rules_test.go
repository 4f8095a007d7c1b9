package trigger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleEngine_Match(t *testing.T) {
	engine, err := NewRuleEngine()
	require.NoError(t, err)

	tests := []struct {
		name        string
		text        string
		wantAction  Action
		wantRuleID  string
		wantMinConf float64
	}{
		{
			name:        "explicit remember imperative",
			text:        "Please remember that I deploy on Fridays",
			wantAction:  ActionSave,
			wantRuleID:  "save.imperative",
			wantMinConf: 0.9,
		},
		{
			name:        "italian ricorda",
			text:        "ricorda che il server gira sulla porta 8080",
			wantAction:  ActionSave,
			wantRuleID:  "save.imperative",
			wantMinConf: 0.9,
		},
		{
			name:        "save this",
			text:        "save this for later: the API token rotates monthly",
			wantAction:  ActionSave,
			wantRuleID:  "save.imperative",
			wantMinConf: 0.9,
		},
		{
			name:        "preference statement",
			text:        "I always prefer tabs over spaces",
			wantAction:  ActionSave,
			wantRuleID:  "save.preference",
			wantMinConf: 0.7,
		},
		{
			name:        "identity fact",
			text:        "my name is Giulia and I work at a fintech",
			wantAction:  ActionSave,
			wantRuleID:  "save.identity",
			wantMinConf: 0.7,
		},
		{
			name:        "solution statement",
			text:        "finally fixed it, the fix was bumping the driver version",
			wantAction:  ActionSave,
			wantRuleID:  "save.solution",
			wantMinConf: 0.7,
		},
		{
			name:        "recall query",
			text:        "what did I say about the staging database?",
			wantAction:  ActionSearch,
			wantRuleID:  "search.recall-query",
			wantMinConf: 0.9,
		},
		{
			name:        "do you remember",
			text:        "do you remember the port we used?",
			wantAction:  ActionSearch,
			wantRuleID:  "search.recall-query",
			wantMinConf: 0.9,
		},
		{
			name:        "explicit search",
			text:        "search my notes for the onboarding checklist",
			wantAction:  ActionSearch,
			wantRuleID:  "search.explicit",
			wantMinConf: 0.8,
		},
		{
			name:        "past reference",
			text:        "last time we discussed the retry strategy",
			wantAction:  ActionSearch,
			wantRuleID:  "search.past-reference",
			wantMinConf: 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := engine.Best(tt.text)
			require.True(t, ok, "expected a match for %q", tt.text)
			assert.Equal(t, tt.wantAction, match.Action)
			assert.Equal(t, tt.wantRuleID, match.RuleID)
			assert.GreaterOrEqual(t, match.Confidence, tt.wantMinConf)
			assert.NotEmpty(t, match.Matched)
			assert.Equal(t, match.Matched, tt.text[match.Span[0]:match.Span[1]])
		})
	}
}

func TestRuleEngine_NoMatch(t *testing.T) {
	engine, err := NewRuleEngine()
	require.NoError(t, err)

	for _, text := range []string{
		"the weather is nice today",
		"package main",
		"",
	} {
		_, ok := engine.Best(text)
		assert.False(t, ok, "expected no match for %q", text)
		assert.Equal(t, ActionNone, engine.Label(text))
	}
}

func TestRuleEngine_OneMatchPerAction(t *testing.T) {
	engine, err := NewRuleEngine()
	require.NoError(t, err)

	// Text hitting both a save and a search rule.
	matches := engine.Match("remember this, and also what did I say about docker?")
	require.Len(t, matches, 2)
	assert.Equal(t, ActionSave, matches[0].Action)
	assert.Equal(t, ActionSearch, matches[1].Action)
}

// Identical text must yield identical matches regardless of call order or
// concurrency: rule evaluation is pure.
func TestRuleEngine_Purity(t *testing.T) {
	engine, err := NewRuleEngine()
	require.NoError(t, err)

	text := "remember that what did I say before is important"
	reference := engine.Match(text)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got := engine.Match(text)
				assert.Equal(t, reference, got)
			}
		}()
	}
	wg.Wait()
}

func TestRuleEngine_CustomRules(t *testing.T) {
	engine, err := NewRuleEngine(Rule{
		ID:         "save.custom",
		Pattern:    `(?i)\bmerken\b`,
		Action:     ActionSave,
		Confidence: 0.95,
		Category:   "custom",
	})
	require.NoError(t, err)

	match, ok := engine.Best("bitte merken: der Build braucht Go 1.24")
	require.True(t, ok)
	assert.Equal(t, "save.custom", match.RuleID)
}

func TestRuleEngine_TieBreaks(t *testing.T) {
	// Two custom rules with equal confidence for the same action: the
	// longer (more specific) pattern must win; with equal specificity
	// declaration order wins.
	engine, err := NewRuleEngine(
		Rule{ID: "save.short", Pattern: `(?i)zettel`, Action: ActionSave, Confidence: 0.99, Category: "t"},
		Rule{ID: "save.long", Pattern: `(?i)zettel\s+bitte`, Action: ActionSave, Confidence: 0.99, Category: "t"},
	)
	require.NoError(t, err)

	match, ok := engine.Best("zettel bitte")
	require.True(t, ok)
	assert.Equal(t, "save.long", match.RuleID)

	engine2, err := NewRuleEngine(
		Rule{ID: "save.first", Pattern: `(?i)zettel`, Action: ActionSave, Confidence: 0.99, Category: "t"},
		Rule{ID: "save.second", Pattern: `(?i)bitte!`, Action: ActionSave, Confidence: 0.99, Category: "t"},
	)
	require.NoError(t, err)

	match, ok = engine2.Best("zettel bitte!")
	require.True(t, ok)
	assert.Equal(t, "save.first", match.RuleID)
}

func TestNewRuleEngine_Invalid(t *testing.T) {
	_, err := NewRuleEngine(Rule{ID: "bad.regex", Pattern: `(`, Action: ActionSave, Confidence: 0.5})
	assert.Error(t, err)

	_, err = NewRuleEngine(Rule{ID: "bad.conf", Pattern: `x`, Action: ActionSave, Confidence: 1.5})
	assert.Error(t, err)

	_, err = NewRuleEngine(Rule{ID: "bad.action", Pattern: `x`, Action: ActionNone, Confidence: 0.5})
	assert.Error(t, err)

	_, err = NewRuleEngine(Rule{Pattern: `x`, Action: ActionSave, Confidence: 0.5})
	assert.Error(t, err)
}
