// Package trigger implements the hybrid memory-trigger decision engine.
//
// The engine decides, per conversational turn, whether the surrounding
// service should persist new information (SAVE), retrieve previously stored
// information (SEARCH), or do nothing (NONE). Two signal sources feed the
// decision:
//   - A deterministic rule engine: ordered regex rules with static
//     confidence scores, evaluated purely over the message text.
//   - A statistical classifier: two logistic-regression predictors
//     (save-likelihood, search-likelihood) over an extracted feature vector,
//     versioned and retrained online.
//
// # Operating Modes
//
// The arbiter fuses both sources under one of four modes:
//   - deterministic: rules only; the classifier is ignored.
//   - ml_only: classifier only; the top probability above the configured
//     floor wins, otherwise NONE.
//   - hybrid: weighted combination of rule confidence and classifier
//     probability per action; ties resolve to NONE.
//   - learning: rules drive the live decision while the classifier runs in
//     shadow; divergences become training examples. Once enough examples
//     accumulate the engine may auto-promote itself to hybrid.
//
// # Online Learning
//
// Training examples (rule divergences and explicit feedback corrections)
// flow into a bounded ring buffer. A background learner retrains candidate
// model versions and promotes them through a validation gate: a candidate
// activates only if its held-out score is no worse than the active
// version's score minus a configured tolerance. Promotion is an atomic
// pointer swap; in-flight evaluations observe either the old or the new
// version, never a mixture. Retired versions are kept briefly for rollback.
//
// # Degradation
//
// No runtime error on the decision path surfaces as a failed request.
// Extraction timeouts and classifier unavailability degrade to rule-only
// decisions; queue overflow drops the oldest example; corrupt user profiles
// reset to defaults. All degradations are logged and counted.
//
// # Usage
//
//	eng, err := trigger.NewEngine(cfg, trigger.Options{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng.Start(ctx)
//	defer eng.Close()
//
//	decision, err := eng.Evaluate(ctx, msg, convCtx, "user-42")
//	switch decision.Action {
//	case trigger.ActionSave:
//	    // caller persists the message
//	case trigger.ActionSearch:
//	    // caller queries the document store
//	}
//
//	// later, when the user corrects the engine:
//	_ = eng.Feedback(decision.ID, trigger.ActionSearch)
//
// The engine never performs storage or similarity search itself; those are
// invoked by the caller strictly as a consequence of Decision.Action.
package trigger
