package flagdock

import "time"

// EvaluationDetails carries the outcome of one flag evaluation together with
// the information needed to understand why that value was served.
type EvaluationDetails struct {
	Key         string
	Value       interface{}
	VariationID string
	User        *User

	// IsDefaultValue is true when the caller's default was served because
	// the evaluation could not produce a value.
	IsDefaultValue bool
	Error          error

	// FetchTime is when the config the value came from was downloaded or
	// last confirmed fresh.
	FetchTime time.Time

	// MatchedTargetingRule is true when a targeting rule served the value;
	// MatchedPercentageOption when a percentage bucket did. Both may be
	// true for a rule with nested percentage options.
	MatchedTargetingRule    bool
	MatchedPercentageOption bool
}

// RefreshResult reports the outcome of a forced config refresh.
type RefreshResult struct {
	Success bool
	Error   string
}
