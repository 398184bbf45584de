// Package domain holds the parsed configuration model shared by the
// refresh service and the evaluator.
package domain

import (
	"encoding/json"
	"fmt"
)

// SettingType is the declared value type of a setting.
type SettingType int

const (
	BoolSetting SettingType = iota
	StringSetting
	IntSetting
	FloatSetting
)

// String returns string representation of the setting type
func (t SettingType) String() string {
	switch t {
	case BoolSetting:
		return "bool"
	case StringSetting:
		return "string"
	case IntSetting:
		return "int"
	case FloatSetting:
		return "float"
	default:
		return "unknown"
	}
}

// Comparator identifies a user condition's comparison operation.
type Comparator int

const (
	ContainsAnyOf Comparator = iota
	NotContainsAnyOf
	SemVerIsOneOf
	SemVerIsNotOneOf
	SemVerLess
	SemVerLessEquals
	SemVerGreater
	SemVerGreaterEquals
	NumberEquals
	NumberNotEquals
	NumberLess
	NumberLessEquals
	NumberGreater
	NumberGreaterEquals
	SensitiveIsOneOf
	SensitiveIsNotOneOf
	DateBefore
	DateAfter
	HashedEquals
	HashedNotEquals
	HashedStartsWith
	HashedNotStartsWith
	HashedEndsWith
	HashedNotEndsWith
	HashedArrayContains
	HashedArrayNotContains
)

// SegmentComparator selects segment membership or its negation.
type SegmentComparator int

const (
	IsInSegment SegmentComparator = iota
	IsNotInSegment
)

// PrerequisiteComparator selects equality or inequality against the
// prerequisite flag's evaluated value.
type PrerequisiteComparator int

const (
	PrerequisiteEquals PrerequisiteComparator = iota
	PrerequisiteNotEquals
)

// SettingValue is the typed value of a setting; exactly one field is set,
// matching the owning setting's declared type.
type SettingValue struct {
	BoolValue   *bool    `json:"b,omitempty"`
	StringValue *string  `json:"s,omitempty"`
	IntValue    *int     `json:"i,omitempty"`
	FloatValue  *float64 `json:"d,omitempty"`
}

// Get returns the Go value matching the declared type, or an error when the
// value slot for that type is absent.
func (v *SettingValue) Get(t SettingType) (interface{}, error) {
	if v == nil {
		return nil, fmt.Errorf("setting value is missing")
	}
	switch t {
	case BoolSetting:
		if v.BoolValue != nil {
			return *v.BoolValue, nil
		}
	case StringSetting:
		if v.StringValue != nil {
			return *v.StringValue, nil
		}
	case IntSetting:
		if v.IntValue != nil {
			return *v.IntValue, nil
		}
	case FloatSetting:
		if v.FloatValue != nil {
			return *v.FloatValue, nil
		}
	}
	return nil, fmt.Errorf("setting value is not a valid %s", t)
}

// Equal reports whether both values carry the same typed payload.
func (v *SettingValue) Equal(other *SettingValue) bool {
	if v == nil || other == nil {
		return v == other
	}
	switch {
	case v.BoolValue != nil && other.BoolValue != nil:
		return *v.BoolValue == *other.BoolValue
	case v.StringValue != nil && other.StringValue != nil:
		return *v.StringValue == *other.StringValue
	case v.IntValue != nil && other.IntValue != nil:
		return *v.IntValue == *other.IntValue
	case v.FloatValue != nil && other.FloatValue != nil:
		return *v.FloatValue == *other.FloatValue
	}
	return false
}

// Type returns the type of the populated slot, or -1 when empty.
func (v *SettingValue) Type() SettingType {
	switch {
	case v == nil:
		return SettingType(-1)
	case v.BoolValue != nil:
		return BoolSetting
	case v.StringValue != nil:
		return StringSetting
	case v.IntValue != nil:
		return IntSetting
	case v.FloatValue != nil:
		return FloatSetting
	default:
		return SettingType(-1)
	}
}

// UserCondition compares a user attribute against the comparator's operand.
// Depending on the comparator, exactly one of StringValue, DoubleValue or
// StringListValue carries the operand.
type UserCondition struct {
	ComparisonAttribute string     `json:"a"`
	Comparator          Comparator `json:"c"`
	StringValue         *string    `json:"s,omitempty"`
	DoubleValue         *float64   `json:"d,omitempty"`
	StringListValue     []string   `json:"l,omitempty"`
}

// SegmentCondition references a segment of the config by index.
type SegmentCondition struct {
	SegmentIndex int               `json:"s"`
	Comparator   SegmentComparator `json:"c"`
}

// PrerequisiteFlagCondition gates a rule on another flag's evaluated value.
type PrerequisiteFlagCondition struct {
	FlagKey    string                 `json:"f"`
	Comparator PrerequisiteComparator `json:"c"`
	Value      *SettingValue          `json:"v"`
}

// Condition is a closed union: exactly one of the three branches is set.
// The evaluator switches over the populated branch exhaustively.
type Condition struct {
	UserCondition         *UserCondition             `json:"u,omitempty"`
	SegmentCondition      *SegmentCondition          `json:"s,omitempty"`
	PrerequisiteCondition *PrerequisiteFlagCondition `json:"p,omitempty"`
}

// ServedValue is the value+variation pair served by a matching rule.
type ServedValue struct {
	Value       *SettingValue `json:"v"`
	VariationID string        `json:"i"`
}

// TargetingRule is an AND-combined condition list plus either a served
// value or a nested percentage option list.
type TargetingRule struct {
	Conditions        []Condition        `json:"c,omitempty"`
	ServedValue       *ServedValue       `json:"s,omitempty"`
	PercentageOptions []PercentageOption `json:"p,omitempty"`
}

// PercentageOption is one weighted bucket of the [0,100) range.
type PercentageOption struct {
	Percentage  int           `json:"p"`
	Value       *SettingValue `json:"v"`
	VariationID string        `json:"i"`
}

// Segment is a named, reusable AND-combined user condition list.
type Segment struct {
	Name       string          `json:"n"`
	Conditions []UserCondition `json:"r"`
}

// Setting is one feature flag with its targeting logic.
type Setting struct {
	Type                SettingType        `json:"t"`
	Value               *SettingValue      `json:"v"`
	TargetingRules      []TargetingRule    `json:"r,omitempty"`
	PercentageOptions   []PercentageOption `json:"p,omitempty"`
	VariationID         string             `json:"i,omitempty"`
	PercentageAttribute string             `json:"a,omitempty"`

	// Wired in by ParseConfig, not part of the wire format.
	ConfigSalt string     `json:"-"`
	SaltKey    string     `json:"-"`
	Segments   []*Segment `json:"-"`
}

// Redirect modes carried in the config preferences.
const (
	NoRedirect     = 0
	ShouldRedirect = 1
	ForceRedirect  = 2
)

// Preferences carries document-level metadata: the hashing salt and the
// CDN base url the client is expected to fetch from.
type Preferences struct {
	Salt     string `json:"s,omitempty"`
	BaseURL  string `json:"u,omitempty"`
	Redirect int    `json:"r,omitempty"`
}

// Config is the immutable root of a fetched configuration document.
type Config struct {
	Preferences *Preferences        `json:"p,omitempty"`
	Settings    map[string]*Setting `json:"f"`
	Segments    []*Segment          `json:"s,omitempty"`
}

// IsEmpty reports whether the config holds no settings.
func (c *Config) IsEmpty() bool {
	return c == nil || len(c.Settings) == 0
}

// ParseConfig decodes a configuration document and wires the document salt,
// each setting's own key (its salt context) and the segment list into every
// setting so the evaluator can work from the setting alone.
func ParseConfig(raw []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("invalid config document: %w", err)
	}
	salt := ""
	if config.Preferences != nil {
		salt = config.Preferences.Salt
	}
	for key, setting := range config.Settings {
		if setting == nil {
			return nil, fmt.Errorf("setting %q is null", key)
		}
		setting.ConfigSalt = salt
		setting.SaltKey = key
		setting.Segments = config.Segments
	}
	return &config, nil
}
