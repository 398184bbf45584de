package flagdock

import (
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"
)

// OverrideBehavior selects how local flag overrides combine with the flags
// downloaded from the endpoint.
type OverrideBehavior int

const (
	// LocalOnly serves overrides exclusively; nothing is downloaded.
	LocalOnly OverrideBehavior = iota
	// LocalOverRemote serves the override when one exists for the key,
	// falling back to the downloaded config otherwise.
	LocalOverRemote
	// RemoteOverLocal serves the downloaded config when it knows the key,
	// falling back to the override otherwise.
	RemoteOverLocal
)

// OverrideRule conditionally overrides a flag. Condition is an expression
// over the user's attributes (plus "Identifier"), e.g.
//
//	`Email endsWith "@example.com" && Country == "DE"`
//
// The first rule whose condition evaluates to true wins.
type OverrideRule struct {
	Condition string
	Value     interface{}
}

// FlagOverrides supplies local flag values, either unconditionally through
// Values or guarded by expressions through Rules. Safe for concurrent use
// once handed to a client; do not mutate the maps afterwards.
type FlagOverrides struct {
	Behavior OverrideBehavior
	Values   map[string]interface{}
	Rules    map[string][]OverrideRule

	mu       sync.Mutex
	programs map[string]*vm.Program
}

// resolve returns the override value for key, if any rule matches or a
// plain value exists. Rules take precedence over plain values.
func (o *FlagOverrides) resolve(key string, user *User, logger zerolog.Logger) (interface{}, bool) {
	for _, rule := range o.Rules[key] {
		matched, err := o.ruleMatches(rule.Condition, user)
		if err != nil {
			logger.Warn().Str("key", key).Str("condition", rule.Condition).Err(err).
				Msg("skipping override rule; condition failed to evaluate")
			continue
		}
		if matched {
			return rule.Value, true
		}
	}
	value, ok := o.Values[key]
	return value, ok
}

func (o *FlagOverrides) ruleMatches(condition string, user *User) (bool, error) {
	program, err := o.compiled(condition)
	if err != nil {
		return false, err
	}

	env := map[string]interface{}{"Identifier": ""}
	if user != nil {
		env["Identifier"] = user.identifier
		for name, value := range user.attributes {
			env[name] = value
		}
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	return ok && matched, nil
}

// compiled returns the cached program for a condition, compiling it on
// first use.
func (o *FlagOverrides) compiled(condition string) (*vm.Program, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if program, ok := o.programs[condition]; ok {
		return program, nil
	}
	program, err := expr.Compile(condition, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	if o.programs == nil {
		o.programs = map[string]*vm.Program{}
	}
	o.programs[condition] = program
	return program, nil
}

// keys returns every key the overrides can serve, sorted.
func (o *FlagOverrides) keys() []string {
	keys := make([]string, 0, len(o.Values)+len(o.Rules))
	seen := make(map[string]struct{}, len(o.Values)+len(o.Rules))
	for key := range o.Values {
		keys = append(keys, key)
		seen[key] = struct{}{}
	}
	for key := range o.Rules {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
