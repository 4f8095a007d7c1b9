package trigger

import (
	"errors"
	"fmt"
	"time"
)

// Common errors for trigger engine operations.
var (
	ErrEmptyUserID       = errors.New("user ID cannot be empty")
	ErrEmptyMessage      = errors.New("message text cannot be empty")
	ErrDecisionNotFound  = errors.New("decision not found")
	ErrUnknownMode       = errors.New("unknown trigger mode")
	ErrInvalidWeight     = errors.New("fusion weight must be between 0.0 and 1.0")
	ErrInvalidAction     = errors.New("action must be 'save', 'search' or 'none'")
	ErrNoActiveModel     = errors.New("no active model version")
	ErrNoRetiredModel    = errors.New("no retired model version to roll back to")
	ErrLearnerStopped    = errors.New("learner is not running")
	ErrInsufficientData  = errors.New("not enough examples to train")
)

// Action is the engine's classification of a message.
type Action string

const (
	// ActionSave indicates the message carries information worth persisting.
	ActionSave Action = "save"

	// ActionSearch indicates the message asks for previously stored information.
	ActionSearch Action = "search"

	// ActionNone indicates no memory operation should be triggered.
	ActionNone Action = "none"
)

// ParseAction converts a string to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionSave, ActionSearch, ActionNone:
		return Action(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// Mode selects how the arbiter fuses rule and classifier signals.
type Mode string

const (
	// ModeDeterministic uses the rule engine only.
	ModeDeterministic Mode = "deterministic"

	// ModeMLOnly uses the classifier only.
	ModeMLOnly Mode = "ml_only"

	// ModeHybrid combines rule confidence and classifier probability
	// with configured weights.
	ModeHybrid Mode = "hybrid"

	// ModeLearning serves deterministic decisions while the classifier
	// runs in shadow, recording divergences as training examples.
	ModeLearning Mode = "learning"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDeterministic, ModeMLOnly, ModeHybrid, ModeLearning:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Message is a single immutable conversational turn.
type Message struct {
	// Text is the raw message content.
	Text string `json:"text"`

	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`

	// Platform tags the origin surface (e.g. "cli", "ide", "chat").
	Platform string `json:"platform,omitempty"`
}

// ConversationContext is the ordered message history for one session.
// The inbound message under evaluation is not part of Messages.
type ConversationContext struct {
	// SessionID identifies the conversation.
	SessionID string `json:"session_id"`

	// Messages are prior turns in chronological order.
	Messages []Message `json:"messages,omitempty"`
}

// TurnIndex returns the position the next message would occupy.
func (c ConversationContext) TurnIndex() int {
	return len(c.Messages)
}

// LastTimestamp returns the timestamp of the most recent prior turn,
// or the zero time when the conversation has no history.
func (c ConversationContext) LastTimestamp() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].Timestamp
}

// RuleMatch is a single rule engine hit.
type RuleMatch struct {
	// RuleID identifies the matching rule.
	RuleID string `json:"rule_id"`

	// Action is the rule's suggested action.
	Action Action `json:"action"`

	// Confidence is the rule's static confidence (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// Category tags the rule family (e.g. "imperative", "recall-query").
	Category string `json:"category"`

	// Span is the [start, end) byte range of the match in the message text.
	Span [2]int `json:"span"`

	// Matched is the matched text fragment.
	Matched string `json:"matched"`
}

// FeatureContribution names a feature and its signed contribution to a
// classifier probability, used for explainability.
type FeatureContribution struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Prediction is the classifier's output for one feature vector.
type Prediction struct {
	// SaveProb is the calibrated save-likelihood (0.0-1.0).
	SaveProb float64 `json:"save_prob"`

	// SearchProb is the calibrated search-likelihood (0.0-1.0).
	SearchProb float64 `json:"search_prob"`

	// ModelVersionID references the model version that produced this prediction.
	ModelVersionID string `json:"model_version_id"`

	// TopFeatures are the strongest contributing features for the
	// dominant predictor, largest absolute contribution first.
	TopFeatures []FeatureContribution `json:"top_features,omitempty"`
}

// Preferred returns the action with the highest probability above the
// given floor, or ActionNone when neither predictor clears it.
func (p Prediction) Preferred(floor float64) (Action, float64) {
	best, prob := ActionNone, 0.0
	if p.SaveProb >= floor && p.SaveProb > prob {
		best, prob = ActionSave, p.SaveProb
	}
	if p.SearchProb >= floor && p.SearchProb > prob {
		best, prob = ActionSearch, p.SearchProb
	}
	return best, prob
}

// Decision is the engine's single output for one evaluated message.
// Decisions are retained in a bounded audit ring so later feedback can be
// correlated with the feature vector that produced them.
type Decision struct {
	// ID is the unique decision identifier (UUID).
	ID string `json:"id"`

	// UserID is the user the decision was made for.
	UserID string `json:"user_id"`

	// Action is the chosen action.
	Action Action `json:"action"`

	// Confidence is the score behind the chosen action (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// Reasoning is a human-readable trace naming the dominant rule
	// and/or the dominant features.
	Reasoning string `json:"reasoning"`

	// Mode is the arbitration mode that produced this decision.
	Mode Mode `json:"mode"`

	// ModelVersionID references the model version consulted, if any.
	ModelVersionID string `json:"model_version_id,omitempty"`

	// Degraded is true when the feature extractor hit its time budget
	// and the decision fell back to rule-only signals.
	Degraded bool `json:"degraded,omitempty"`

	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
}

// Provenance records how a training example was obtained.
type Provenance string

const (
	// ProvenanceRuleDivergence marks examples recorded in learning mode
	// when the classifier's shadow prediction disagreed with the rules.
	ProvenanceRuleDivergence Provenance = "rule-divergence"

	// ProvenanceFeedback marks examples produced by explicit user
	// correction via Feedback.
	ProvenanceFeedback Provenance = "explicit-feedback"
)

// TrainingExample is a labeled feature vector for classifier retraining.
type TrainingExample struct {
	Features   FeatureVector `json:"features"`
	Label      Action        `json:"label"`
	Provenance Provenance    `json:"provenance"`
	Timestamp  time.Time     `json:"timestamp"`
}
