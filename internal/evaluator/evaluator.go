// Package evaluator implements the deterministic targeting/rollout rule
// interpreter. It is pure: no I/O, no shared mutable state, safe for
// concurrent use over the same immutable config.
package evaluator

import (
	"fmt"
	"strings"

	"github.com/flagdock/flagdock-go/internal/domain"
	"github.com/rs/zerolog"
)

// Result is the outcome of one successful evaluation.
type Result struct {
	Value         *domain.SettingValue
	VariationID   string
	MatchedRule   *domain.TargetingRule
	MatchedOption *domain.PercentageOption
}

// Evaluator resolves a flag's value from targeting rules, segments,
// prerequisite flags and percentage-based bucketing.
type Evaluator struct {
	logger zerolog.Logger
}

// New creates an evaluator that reports diagnostics on the given logger.
func New(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// evalContext is threaded through one top-level evaluation call and the
// prerequisite recursion below it.
type evalContext struct {
	rootKey  string
	user     *domain.User
	settings map[string]*domain.Setting

	// Ordered cycle guard over prerequisite recursion.
	visited []string

	// One-shot diagnostic flags, so one call tree logs each kind at most once.
	userMissingWarned bool
	attrMissingWarned bool
	badOperandWarned  bool
}

// Evaluate resolves the value of setting under key for the given user.
// The settings map is needed to follow prerequisite flag conditions.
// A nil user is valid; targeting then degrades to defaults.
func (e *Evaluator) Evaluate(setting *domain.Setting, key string, user *domain.User, settings map[string]*domain.Setting) (Result, error) {
	ctx := &evalContext{
		rootKey:  key,
		user:     user,
		settings: settings,
	}
	return e.evaluateSetting(setting, key, ctx)
}

func (e *Evaluator) evaluateSetting(setting *domain.Setting, key string, ctx *evalContext) (Result, error) {
	ctx.visited = append(ctx.visited, key)

	for i := range setting.TargetingRules {
		rule := &setting.TargetingRules[i]
		matched, err := e.conditionsMatch(rule.Conditions, setting, ctx)
		if err != nil {
			return Result{}, err
		}
		if !matched {
			continue
		}
		if rule.ServedValue != nil {
			return Result{
				Value:       rule.ServedValue.Value,
				VariationID: rule.ServedValue.VariationID,
				MatchedRule: rule,
			}, nil
		}
		if len(rule.PercentageOptions) == 0 {
			continue
		}
		if option := e.evaluatePercentageOptions(rule.PercentageOptions, setting, ctx); option != nil {
			return Result{
				Value:         option.Value,
				VariationID:   option.VariationID,
				MatchedRule:   rule,
				MatchedOption: option,
			}, nil
		}
		// No percentage bucket won; fall through to the remaining rules.
	}

	if len(setting.PercentageOptions) > 0 {
		if option := e.evaluatePercentageOptions(setting.PercentageOptions, setting, ctx); option != nil {
			return Result{
				Value:         option.Value,
				VariationID:   option.VariationID,
				MatchedOption: option,
			}, nil
		}
	}

	return Result{Value: setting.Value, VariationID: setting.VariationID}, nil
}

// conditionsMatch evaluates a rule's conditions as a short-circuiting AND.
// The condition union is closed: the user, segment and prerequisite variants
// are the only ones handled, and an empty variant never matches.
func (e *Evaluator) conditionsMatch(conditions []domain.Condition, setting *domain.Setting, ctx *evalContext) (bool, error) {
	for i := range conditions {
		condition := &conditions[i]
		switch {
		case condition.UserCondition != nil:
			if !e.userConditionMatch(condition.UserCondition, setting.ConfigSalt, setting.SaltKey, ctx) {
				return false, nil
			}
		case condition.SegmentCondition != nil:
			if !e.segmentConditionMatch(condition.SegmentCondition, setting, ctx) {
				return false, nil
			}
		case condition.PrerequisiteCondition != nil:
			matched, err := e.prerequisiteConditionMatch(condition.PrerequisiteCondition, ctx)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		default:
			e.logger.Warn().Str("key", ctx.rootKey).Msg("targeting rule condition is empty")
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) segmentConditionMatch(condition *domain.SegmentCondition, setting *domain.Setting, ctx *evalContext) bool {
	if ctx.user == nil {
		e.warnUserMissing(ctx)
		return false
	}
	if condition.SegmentIndex < 0 || condition.SegmentIndex >= len(setting.Segments) {
		return false
	}
	segment := setting.Segments[condition.SegmentIndex]
	if segment == nil || segment.Name == "" {
		return false
	}

	inSegment := true
	for i := range segment.Conditions {
		// Segment conditions hash against the segment name, not the setting key.
		if !e.userConditionMatch(&segment.Conditions[i], setting.ConfigSalt, segment.Name, ctx) {
			inSegment = false
			break
		}
	}

	switch condition.Comparator {
	case domain.IsInSegment:
		return inSegment
	case domain.IsNotInSegment:
		return !inSegment
	default:
		return false
	}
}

func (e *Evaluator) prerequisiteConditionMatch(condition *domain.PrerequisiteFlagCondition, ctx *evalContext) (bool, error) {
	prerequisite, ok := ctx.settings[condition.FlagKey]
	if !ok || prerequisite == nil {
		return false, nil
	}

	for _, visitedKey := range ctx.visited {
		if visitedKey == condition.FlagKey {
			return false, domain.NewEvaluationError(ctx.rootKey,
				fmt.Sprintf("circular dependency detected between the following depending flags: %s",
					formatCycle(ctx.visited, condition.FlagKey)), nil)
		}
	}

	if condition.Value.Type() != prerequisite.Type {
		return false, domain.NewEvaluationError(ctx.rootKey,
			fmt.Sprintf("type mismatch between comparison value and prerequisite flag '%s'", condition.FlagKey), nil)
	}

	result, err := e.evaluateSetting(prerequisite, condition.FlagKey, ctx)
	ctx.visited = ctx.visited[:len(ctx.visited)-1]
	if err != nil {
		return false, err
	}

	equal := result.Value.Equal(condition.Value)
	switch condition.Comparator {
	case domain.PrerequisiteEquals:
		return equal, nil
	case domain.PrerequisiteNotEquals:
		return !equal, nil
	default:
		return false, nil
	}
}

// evaluatePercentageOptions picks the winning bucket, or nil when the user
// or the bucketing attribute is missing, or when the weights sum below 100
// and no bucket wins. Bucketing is bit-for-bit reproducible.
func (e *Evaluator) evaluatePercentageOptions(options []domain.PercentageOption, setting *domain.Setting, ctx *evalContext) *domain.PercentageOption {
	if ctx.user == nil {
		e.warnUserMissing(ctx)
		return nil
	}

	attributeValue := ctx.user.Identifier
	if setting.PercentageAttribute != "" {
		value, ok := ctx.user.Attribute(setting.PercentageAttribute)
		if !ok {
			e.warnAttributeMissing(ctx, setting.PercentageAttribute)
			return nil
		}
		attributeValue = value
	}

	scaled := bucketOf(setting.SaltKey, attributeValue)
	bucket := 0
	for i := range options {
		bucket += options[i].Percentage
		if scaled < bucket {
			return &options[i]
		}
	}
	return nil
}

func (e *Evaluator) warnUserMissing(ctx *evalContext) {
	if ctx.userMissingWarned {
		return
	}
	ctx.userMissingWarned = true
	e.logger.Warn().Str("key", ctx.rootKey).
		Msg("cannot evaluate targeting rules and percentage options; user object is missing")
}

func (e *Evaluator) warnAttributeMissing(ctx *evalContext, attribute string) {
	if ctx.attrMissingWarned {
		return
	}
	ctx.attrMissingWarned = true
	e.logger.Warn().Str("key", ctx.rootKey).Str("attribute", attribute).
		Msg("cannot evaluate condition; user attribute is missing")
}

func (e *Evaluator) warnBadOperand(ctx *evalContext, attribute string, err error) {
	if ctx.badOperandWarned {
		return
	}
	ctx.badOperandWarned = true
	e.logger.Warn().Str("key", ctx.rootKey).Str("attribute", attribute).Err(err).
		Msg("cannot evaluate condition; comparison value is invalid")
}

// formatCycle renders the dependency chain for circular prerequisite errors,
// e.g. 'A' -> 'B' -> 'A'.
func formatCycle(visited []string, closing string) string {
	var b strings.Builder
	for _, key := range visited {
		b.WriteString("'")
		b.WriteString(key)
		b.WriteString("' -> ")
	}
	b.WriteString("'")
	b.WriteString(closing)
	b.WriteString("'")
	return b.String()
}
