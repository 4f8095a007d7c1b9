package trigger

import (
	"fmt"
	"regexp"
)

// Rule is a single text-pattern trigger rule.
type Rule struct {
	// ID identifies the rule in decisions and reasoning traces.
	ID string

	// Pattern is a regex pattern string, compiled at construction time.
	Pattern string

	// Action is the action this rule votes for when it matches.
	Action Action

	// Confidence is the static confidence score (0.0-1.0).
	Confidence float64

	// Category tags the rule family.
	Category string
}

// compiledRule pairs a compiled regex with its source rule and a
// specificity score used for tie-breaking.
type compiledRule struct {
	regex       *regexp.Regexp
	rule        Rule
	specificity int
	order       int
}

// RuleEngine evaluates an ordered set of trigger rules over message text.
// Evaluation is a pure function of the text: no side effects, no shared
// mutable state. All patterns are compiled at construction, so the engine
// is safe for concurrent use.
type RuleEngine struct {
	rules []compiledRule
}

// NewRuleEngine creates a rule engine from the built-in rule set plus any
// custom rules. Custom rules are appended after the built-ins, so a custom
// rule only outranks a built-in through higher confidence or specificity.
func NewRuleEngine(custom ...Rule) (*RuleEngine, error) {
	all := append(builtinRules(), custom...)
	compiled := make([]compiledRule, 0, len(all))
	for i, r := range all {
		if r.ID == "" {
			return nil, fmt.Errorf("rule at index %d has no ID", i)
		}
		if r.Action != ActionSave && r.Action != ActionSearch {
			return nil, fmt.Errorf("rule %s: %w", r.ID, ErrInvalidAction)
		}
		if r.Confidence < 0.0 || r.Confidence > 1.0 {
			return nil, fmt.Errorf("rule %s: confidence %v outside [0,1]", r.ID, r.Confidence)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compiling pattern: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{
			regex:       re,
			rule:        r,
			specificity: len(r.Pattern),
			order:       i,
		})
	}
	return &RuleEngine{rules: compiled}, nil
}

// builtinRules returns the ordered default rule set. More specific patterns
// carry higher confidence; broad single-keyword fallbacks come last with
// lower confidence. All patterns use (?i) for case-insensitive matching.
func builtinRules() []Rule {
	return []Rule{
		// --- Explicit save imperatives ---
		{
			ID:         "save.imperative",
			Pattern:    `(?i)\b(?:remember|memorize|ricorda(?:ti)?|save\s+this|take\s+(?:a\s+)?note|note\s+(?:this|that)\s+down|don'?t\s+forget)\b`,
			Action:     ActionSave,
			Confidence: 0.9,
			Category:   "imperative",
		},
		{
			ID:         "save.preference",
			Pattern:    `(?i)\b(?:i\s+(?:always\s+)?prefer|i\s+(?:usually|always|never)\s+\w+|my\s+favou?rite|from\s+now\s+on)\b`,
			Action:     ActionSave,
			Confidence: 0.75,
			Category:   "preference",
		},
		{
			ID:         "save.identity",
			Pattern:    `(?i)\b(?:my\s+name\s+is|i\s+(?:work|live)\s+(?:at|in)|i\s+am\s+a\b|i'?m\s+(?:a|an)\s+\w+)\b`,
			Action:     ActionSave,
			Confidence: 0.7,
			Category:   "identity",
		},
		{
			ID:         "save.solution",
			Pattern:    `(?i)\b(?:(?:finally\s+)?(?:fixed|solved|resolved)\s+(?:it|this|the)|the\s+(?:fix|solution|workaround)\s+(?:was|is)|turns?\s+out\s+(?:it|the|that))\b`,
			Action:     ActionSave,
			Confidence: 0.7,
			Category:   "solution",
		},

		// --- Retrieval queries ---
		// Outranks save.imperative: "do you remember" contains the bare
		// "remember" keyword but is a query, not an instruction.
		{
			ID:         "search.recall-query",
			Pattern:    `(?i)\b(?:what\s+did\s+i\s+(?:say|tell|write|save)|do\s+you\s+remember|did\s+i\s+(?:mention|tell)|cosa\s+ti\s+ho\s+detto)\b`,
			Action:     ActionSearch,
			Confidence: 0.95,
			Category:   "recall-query",
		},
		{
			ID:         "search.explicit",
			Pattern:    `(?i)\b(?:search\s+(?:my|the)\s+(?:notes?|memor(?:y|ies))|look\s+(?:up|through)\s+my|find\s+(?:my|the)\s+note|check\s+(?:my|your)\s+(?:notes?|memory))\b`,
			Action:     ActionSearch,
			Confidence: 0.85,
			Category:   "explicit",
		},
		{
			ID:         "search.past-reference",
			Pattern:    `(?i)\b(?:last\s+time\s+(?:we|i)|as\s+(?:i|we)\s+(?:discussed|mentioned)|(?:the|that)\s+thing\s+(?:i|we)\s+(?:talked|spoke)\s+about|earlier\s+(?:i|we)\s+(?:said|mentioned))\b`,
			Action:     ActionSearch,
			Confidence: 0.7,
			Category:   "past-reference",
		},

		// Broad fallbacks (single keywords, lower confidence).
		{
			ID:         "save.keyword",
			Pattern:    `(?i)\b(?:important|reminder|salva)\b`,
			Action:     ActionSave,
			Confidence: 0.5,
			Category:   "keyword",
		},
		{
			ID:         "search.keyword",
			Pattern:    `(?i)\b(?:recall|retrieve|cerca)\b`,
			Action:     ActionSearch,
			Confidence: 0.5,
			Category:   "keyword",
		},
	}
}

// Match evaluates all rules against text and returns at most one RuleMatch
// per action: the highest-confidence matching rule, ties broken by pattern
// specificity, then declaration order. The result slice is ordered save
// before search when both are present.
func (e *RuleEngine) Match(text string) []RuleMatch {
	best := make(map[Action]compiledRule, 2)
	spans := make(map[Action][]int, 2)
	for _, cr := range e.rules {
		loc := cr.regex.FindStringIndex(text)
		if loc == nil {
			continue
		}
		cur, ok := best[cr.rule.Action]
		if !ok || better(cr, cur) {
			best[cr.rule.Action] = cr
			spans[cr.rule.Action] = loc
		}
	}

	matches := make([]RuleMatch, 0, 2)
	for _, action := range []Action{ActionSave, ActionSearch} {
		cr, ok := best[action]
		if !ok {
			continue
		}
		loc := spans[action]
		matches = append(matches, RuleMatch{
			RuleID:     cr.rule.ID,
			Action:     action,
			Confidence: cr.rule.Confidence,
			Category:   cr.rule.Category,
			Span:       [2]int{loc[0], loc[1]},
			Matched:    text[loc[0]:loc[1]],
		})
	}
	return matches
}

// Best returns the single top match across all actions, or false when no
// rule matched.
func (e *RuleEngine) Best(text string) (RuleMatch, bool) {
	matches := e.Match(text)
	if len(matches) == 0 {
		return RuleMatch{}, false
	}
	top := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > top.Confidence {
			top = m
		}
	}
	return top, true
}

// Label classifies text using rules alone, for bootstrapping classifier
// training. Returns ActionNone when no rule matches.
func (e *RuleEngine) Label(text string) Action {
	if m, ok := e.Best(text); ok {
		return m.Action
	}
	return ActionNone
}

// better reports whether a should replace b as the best rule for an action.
func better(a, b compiledRule) bool {
	if a.rule.Confidence != b.rule.Confidence {
		return a.rule.Confidence > b.rule.Confidence
	}
	if a.specificity != b.specificity {
		return a.specificity > b.specificity
	}
	return a.order < b.order
}
