package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hybridConfig(wRule, wML float64) FusionConfig {
	return FusionConfig{
		Mode:            ModeHybrid,
		RuleWeight:      wRule,
		MLWeight:        wML,
		ConfidenceFloor: 0.55,
	}
}

func TestArbitrate_Deterministic(t *testing.T) {
	cfg := FusionConfig{Mode: ModeDeterministic}

	t.Run("top rule wins", func(t *testing.T) {
		matches := []RuleMatch{
			{RuleID: "save.imperative", Action: ActionSave, Confidence: 0.9, Matched: "remember"},
			{RuleID: "search.keyword", Action: ActionSearch, Confidence: 0.5, Matched: "recall"},
		}
		v := arbitrate(cfg, matches, Prediction{}, false)
		assert.Equal(t, ActionSave, v.action)
		assert.InDelta(t, 0.9, v.confidence, 1e-9)
		assert.Contains(t, v.reasoning, "save.imperative")
	})

	t.Run("no match yields none", func(t *testing.T) {
		v := arbitrate(cfg, nil, Prediction{}, false)
		assert.Equal(t, ActionNone, v.action)
	})

	t.Run("classifier is ignored", func(t *testing.T) {
		pred := Prediction{SaveProb: 0.99, SearchProb: 0.01, ModelVersionID: "mv"}
		v := arbitrate(cfg, nil, pred, true)
		assert.Equal(t, ActionNone, v.action)
		assert.False(t, v.usedModel)
	})

	t.Run("cross-action tie yields none", func(t *testing.T) {
		matches := []RuleMatch{
			{RuleID: "a", Action: ActionSave, Confidence: 0.7},
			{RuleID: "b", Action: ActionSearch, Confidence: 0.7},
		}
		v := arbitrate(cfg, matches, Prediction{}, false)
		assert.Equal(t, ActionNone, v.action)
	})
}

func TestArbitrate_MLOnly(t *testing.T) {
	cfg := FusionConfig{Mode: ModeMLOnly, ConfidenceFloor: 0.55}

	t.Run("argmax above floor", func(t *testing.T) {
		pred := Prediction{SaveProb: 0.3, SearchProb: 0.8, ModelVersionID: "mv"}
		v := arbitrate(cfg, nil, pred, true)
		assert.Equal(t, ActionSearch, v.action)
		assert.InDelta(t, 0.8, v.confidence, 1e-9)
		assert.True(t, v.usedModel)
	})

	t.Run("below floor yields none", func(t *testing.T) {
		pred := Prediction{SaveProb: 0.4, SearchProb: 0.5, ModelVersionID: "mv"}
		v := arbitrate(cfg, nil, pred, true)
		assert.Equal(t, ActionNone, v.action)
	})

	t.Run("rules are ignored when model is usable", func(t *testing.T) {
		matches := []RuleMatch{{RuleID: "save.imperative", Action: ActionSave, Confidence: 0.9}}
		pred := Prediction{SaveProb: 0.1, SearchProb: 0.1, ModelVersionID: "mv"}
		v := arbitrate(cfg, matches, pred, true)
		assert.Equal(t, ActionNone, v.action)
	})

	t.Run("degrades to rules when classifier unavailable", func(t *testing.T) {
		matches := []RuleMatch{{RuleID: "save.imperative", Action: ActionSave, Confidence: 0.9}}
		v := arbitrate(cfg, matches, Prediction{}, false)
		assert.Equal(t, ActionSave, v.action)
		assert.Contains(t, v.reasoning, "degraded")
	})
}

// The worked example: rule "ricorda" suggests save at 0.9; the classifier
// says save=0.6, search=0.1; weights (rule 0.6, ml 0.4) combine to
// save=0.78, search=0.04, so the decision is save with confidence 0.78.
func TestArbitrate_Hybrid_WorkedExample(t *testing.T) {
	cfg := hybridConfig(0.6, 0.4)
	matches := []RuleMatch{
		{RuleID: "save.imperative", Action: ActionSave, Confidence: 0.9, Matched: "ricorda"},
	}
	pred := Prediction{SaveProb: 0.6, SearchProb: 0.1, ModelVersionID: "mv"}

	v := arbitrate(cfg, matches, pred, true)
	require.Equal(t, ActionSave, v.action)
	assert.InDelta(t, 0.78, v.confidence, 1e-9)
	assert.Contains(t, v.reasoning, "save.imperative")
}

func TestArbitrate_Hybrid(t *testing.T) {
	t.Run("tie resolves to none", func(t *testing.T) {
		cfg := hybridConfig(0.5, 0.5)
		pred := Prediction{SaveProb: 0.4, SearchProb: 0.4, ModelVersionID: "mv"}
		v := arbitrate(cfg, nil, pred, true)
		assert.Equal(t, ActionNone, v.action)
	})

	t.Run("no signal resolves to none", func(t *testing.T) {
		cfg := hybridConfig(0.5, 0.5)
		v := arbitrate(cfg, nil, Prediction{}, false)
		assert.Equal(t, ActionNone, v.action)
	})

	t.Run("missing prediction reduces to weighted rules", func(t *testing.T) {
		cfg := hybridConfig(0.6, 0.4)
		matches := []RuleMatch{{RuleID: "search.explicit", Action: ActionSearch, Confidence: 0.85}}
		v := arbitrate(cfg, matches, Prediction{}, false)
		assert.Equal(t, ActionSearch, v.action)
		assert.InDelta(t, 0.51, v.confidence, 1e-9)
	})
}

// HYBRID with w_ml=0 must choose the same action as DETERMINISTIC for all
// inputs.
func TestArbitrate_WeightZeroEquivalence(t *testing.T) {
	det := FusionConfig{Mode: ModeDeterministic}
	hyb := hybridConfig(0.6, 0.0)
	pred := Prediction{SaveProb: 0.99, SearchProb: 0.95, ModelVersionID: "mv"}

	cases := [][]RuleMatch{
		nil,
		{{RuleID: "a", Action: ActionSave, Confidence: 0.9}},
		{{RuleID: "a", Action: ActionSearch, Confidence: 0.5}},
		{
			{RuleID: "a", Action: ActionSave, Confidence: 0.9},
			{RuleID: "b", Action: ActionSearch, Confidence: 0.5},
		},
		{
			{RuleID: "a", Action: ActionSave, Confidence: 0.3},
			{RuleID: "b", Action: ActionSearch, Confidence: 0.7},
		},
		{
			{RuleID: "a", Action: ActionSave, Confidence: 0.7},
			{RuleID: "b", Action: ActionSearch, Confidence: 0.7},
		},
	}

	for _, matches := range cases {
		want := arbitrate(det, matches, Prediction{}, false).action
		got := arbitrate(hyb, matches, pred, true).action
		assert.Equal(t, want, got, "matches: %+v", matches)
	}
}

func TestArbitrate_Learning(t *testing.T) {
	cfg := FusionConfig{Mode: ModeLearning, ConfidenceFloor: 0.55}
	matches := []RuleMatch{{RuleID: "save.imperative", Action: ActionSave, Confidence: 0.9, Matched: "remember"}}

	t.Run("live decision follows rules", func(t *testing.T) {
		pred := Prediction{SaveProb: 0.1, SearchProb: 0.9, ModelVersionID: "mv"}
		v := arbitrate(cfg, matches, pred, true)
		assert.Equal(t, ActionSave, v.action)
		assert.InDelta(t, 0.9, v.confidence, 1e-9)
	})

	t.Run("divergence is flagged", func(t *testing.T) {
		pred := Prediction{SaveProb: 0.1, SearchProb: 0.9, ModelVersionID: "mv"}
		v := arbitrate(cfg, matches, pred, true)
		assert.True(t, v.diverged)
		assert.Contains(t, v.reasoning, "shadow")
	})

	t.Run("agreement is not divergence", func(t *testing.T) {
		pred := Prediction{SaveProb: 0.9, SearchProb: 0.1, ModelVersionID: "mv"}
		v := arbitrate(cfg, matches, pred, true)
		assert.False(t, v.diverged)
	})

	t.Run("no shadow without model", func(t *testing.T) {
		v := arbitrate(cfg, matches, Prediction{}, false)
		assert.False(t, v.diverged)
	})
}

func TestFusionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FusionConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *FusionConfig) {}, false},
		{"unknown mode", func(c *FusionConfig) { c.Mode = "chaotic" }, true},
		{"rule weight above one", func(c *FusionConfig) { c.RuleWeight = 1.2 }, true},
		{"negative ml weight", func(c *FusionConfig) { c.MLWeight = -0.1 }, true},
		{"floor above one", func(c *FusionConfig) { c.ConfidenceFloor = 1.5 }, true},
		{"negative threshold", func(c *FusionConfig) { c.AutoPromoteThreshold = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFusionConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
