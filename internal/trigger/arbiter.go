package trigger

import (
	"fmt"
	"strings"
)

// FusionConfig is the explicit arbitration configuration. It is passed in
// at engine construction and replaced only through Engine.Reconfigure, so
// there is no ambient mode state.
type FusionConfig struct {
	// Mode selects the arbitration strategy.
	Mode Mode `json:"mode"`

	// RuleWeight scales rule confidence in hybrid mode (0.0-1.0).
	RuleWeight float64 `json:"rule_weight"`

	// MLWeight scales classifier probability in hybrid mode (0.0-1.0).
	MLWeight float64 `json:"ml_weight"`

	// ConfidenceFloor is the minimum classifier probability for ml_only
	// mode to trigger an action.
	ConfidenceFloor float64 `json:"confidence_floor"`

	// AutoPromoteThreshold is the accumulated training-example count at
	// which learning mode self-promotes to hybrid. Zero disables
	// auto-promotion.
	AutoPromoteThreshold int `json:"auto_promote_threshold"`
}

// Validate checks the configuration. Failures here are fatal at startup
// and rejected at reconfiguration time.
func (c FusionConfig) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.RuleWeight < 0.0 || c.RuleWeight > 1.0 {
		return fmt.Errorf("rule_weight: %w", ErrInvalidWeight)
	}
	if c.MLWeight < 0.0 || c.MLWeight > 1.0 {
		return fmt.Errorf("ml_weight: %w", ErrInvalidWeight)
	}
	if c.ConfidenceFloor < 0.0 || c.ConfidenceFloor > 1.0 {
		return fmt.Errorf("confidence_floor must be between 0.0 and 1.0, got %v", c.ConfidenceFloor)
	}
	if c.AutoPromoteThreshold < 0 {
		return fmt.Errorf("auto_promote_threshold cannot be negative, got %d", c.AutoPromoteThreshold)
	}
	return nil
}

// DefaultFusionConfig splits influence evenly between rules and model.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Mode:                 ModeLearning,
		RuleWeight:           0.5,
		MLWeight:             0.5,
		ConfidenceFloor:      0.55,
		AutoPromoteThreshold: 200,
	}
}

// verdict is the arbiter's internal result before it becomes a Decision.
type verdict struct {
	action     Action
	confidence float64
	reasoning  string

	// usedModel is true when the classifier influenced the live action.
	usedModel bool

	// diverged is true in learning mode when the shadow classifier
	// preferred a different action than the rules.
	diverged bool
}

// arbitrate fuses rule matches and a classifier prediction into one
// verdict according to the configured mode. predOK is false when the
// classifier is unavailable or the feature vector was degraded; every mode
// then degrades to its rule-only behavior.
func arbitrate(cfg FusionConfig, matches []RuleMatch, pred Prediction, predOK bool) verdict {
	switch cfg.Mode {
	case ModeMLOnly:
		return arbitrateMLOnly(cfg, matches, pred, predOK)
	case ModeHybrid:
		return arbitrateHybrid(cfg, matches, pred, predOK)
	case ModeLearning:
		v := arbitrateRules(matches)
		if predOK {
			shadow, _ := pred.Preferred(cfg.ConfidenceFloor)
			if shadow != v.action {
				v.diverged = true
				v.reasoning += fmt.Sprintf("; shadow model %s preferred %s (save=%.2f search=%.2f)",
					pred.ModelVersionID, shadow, pred.SaveProb, pred.SearchProb)
			}
		}
		return v
	default: // ModeDeterministic
		return arbitrateRules(matches)
	}
}

// arbitrateRules picks the top rule match, or NONE absent a match. An
// exact cross-action confidence tie resolves to NONE, biasing against
// false triggers.
func arbitrateRules(matches []RuleMatch) verdict {
	if len(matches) == 0 {
		return verdict{
			action:    ActionNone,
			reasoning: "no rule matched",
		}
	}
	if len(matches) == 2 && matches[0].Confidence == matches[1].Confidence {
		return verdict{
			action: ActionNone,
			reasoning: fmt.Sprintf("rules %s and %s tied at confidence %.2f; defaulting to none",
				matches[0].RuleID, matches[1].RuleID, matches[0].Confidence),
		}
	}
	top := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > top.Confidence {
			top = m
		}
	}
	return verdict{
		action:     top.Action,
		confidence: top.Confidence,
		reasoning: fmt.Sprintf("rule %s matched %q suggesting %s (confidence %.2f)",
			top.RuleID, top.Matched, top.Action, top.Confidence),
	}
}

// arbitrateMLOnly takes the arg-max classifier probability above the
// configured floor, else NONE. Without a usable prediction it degrades to
// rule-only.
func arbitrateMLOnly(cfg FusionConfig, matches []RuleMatch, pred Prediction, predOK bool) verdict {
	if !predOK {
		v := arbitrateRules(matches)
		v.reasoning = "classifier unavailable, degraded to rules: " + v.reasoning
		return v
	}
	action, prob := pred.Preferred(cfg.ConfidenceFloor)
	if action == ActionNone {
		return verdict{
			action:    ActionNone,
			usedModel: true,
			reasoning: fmt.Sprintf("model %s below floor %.2f (save=%.2f search=%.2f)",
				pred.ModelVersionID, cfg.ConfidenceFloor, pred.SaveProb, pred.SearchProb),
		}
	}
	return verdict{
		action:     action,
		confidence: prob,
		usedModel:  true,
		reasoning: fmt.Sprintf("model %s predicts %s (p=%.2f)%s",
			pred.ModelVersionID, action, prob, featureTrace(pred.TopFeatures)),
	}
}

// arbitrateHybrid computes a weighted combined score per action and takes
// the arg-max; ties resolve to NONE. A missing prediction contributes zero
// probability, which reduces to weighted rules.
func arbitrateHybrid(cfg FusionConfig, matches []RuleMatch, pred Prediction, predOK bool) verdict {
	ruleConf := map[Action]float64{}
	ruleID := map[Action]string{}
	for _, m := range matches {
		ruleConf[m.Action] = m.Confidence
		ruleID[m.Action] = m.RuleID
	}
	saveProb, searchProb := 0.0, 0.0
	if predOK {
		saveProb, searchProb = pred.SaveProb, pred.SearchProb
	}

	saveScore := cfg.RuleWeight*ruleConf[ActionSave] + cfg.MLWeight*saveProb
	searchScore := cfg.RuleWeight*ruleConf[ActionSearch] + cfg.MLWeight*searchProb

	trace := fmt.Sprintf("combined save=%.2f search=%.2f (w_rule=%.2f w_ml=%.2f)",
		saveScore, searchScore, cfg.RuleWeight, cfg.MLWeight)

	var action Action
	var score float64
	switch {
	case saveScore == searchScore:
		return verdict{
			action:    ActionNone,
			usedModel: predOK,
			reasoning: trace + "; tie, defaulting to none",
		}
	case saveScore > searchScore:
		action, score = ActionSave, saveScore
	default:
		action, score = ActionSearch, searchScore
	}
	if score <= 0 {
		return verdict{
			action:    ActionNone,
			usedModel: predOK,
			reasoning: trace + "; no positive signal",
		}
	}

	if id, ok := ruleID[action]; ok {
		trace += fmt.Sprintf("; dominant rule %s (%.2f)", id, ruleConf[action])
	}
	if predOK {
		trace += featureTrace(pred.TopFeatures)
	}
	return verdict{
		action:     action,
		confidence: score,
		usedModel:  predOK,
		reasoning:  trace,
	}
}

// featureTrace renders the top feature attributions for a reasoning trace.
func featureTrace(contribs []FeatureContribution) string {
	if len(contribs) == 0 {
		return ""
	}
	names := make([]string, 0, len(contribs))
	for _, c := range contribs {
		names = append(names, fmt.Sprintf("%s=%+.2f", c.Name, c.Contribution))
	}
	return "; top features: " + strings.Join(names, ", ")
}
