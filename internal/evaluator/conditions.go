package evaluator

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
	"github.com/flagdock/flagdock-go/internal/domain"
)

// userConditionMatch applies one comparator to one user attribute.
// Malformed operands or attribute values never fail the evaluation; they
// degrade the condition to false with a diagnostic.
func (e *Evaluator) userConditionMatch(condition *domain.UserCondition, configSalt, contextSalt string, ctx *evalContext) bool {
	if ctx.user == nil {
		e.warnUserMissing(ctx)
		return false
	}
	userValue, ok := ctx.user.Attribute(condition.ComparisonAttribute)
	if !ok || userValue == "" {
		e.warnAttributeMissing(ctx, condition.ComparisonAttribute)
		return false
	}

	switch condition.Comparator {
	case domain.ContainsAnyOf, domain.NotContainsAnyOf:
		contains := false
		for _, operand := range cleanList(condition.StringListValue) {
			if strings.Contains(userValue, operand) {
				contains = true
				break
			}
		}
		if condition.Comparator == domain.NotContainsAnyOf {
			return !contains
		}
		return contains

	case domain.SemVerIsOneOf, domain.SemVerIsNotOneOf:
		userVersion, err := semver.ParseTolerant(strings.TrimSpace(userValue))
		if err != nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
			return false
		}
		matched := false
		for _, operand := range cleanList(condition.StringListValue) {
			operandVersion, err := semver.ParseTolerant(operand)
			if err != nil {
				e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
				return false
			}
			if userVersion.Compare(operandVersion) == 0 {
				matched = true
			}
		}
		if condition.Comparator == domain.SemVerIsNotOneOf {
			return !matched
		}
		return matched

	case domain.SemVerLess, domain.SemVerLessEquals, domain.SemVerGreater, domain.SemVerGreaterEquals:
		userVersion, err := semver.ParseTolerant(strings.TrimSpace(userValue))
		if err != nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
			return false
		}
		operandVersion, err := semver.ParseTolerant(strings.TrimSpace(stringOperand(condition)))
		if err != nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
			return false
		}
		cmp := userVersion.Compare(operandVersion)
		switch condition.Comparator {
		case domain.SemVerLess:
			return cmp < 0
		case domain.SemVerLessEquals:
			return cmp <= 0
		case domain.SemVerGreater:
			return cmp > 0
		default:
			return cmp >= 0
		}

	case domain.NumberEquals, domain.NumberNotEquals, domain.NumberLess,
		domain.NumberLessEquals, domain.NumberGreater, domain.NumberGreaterEquals:
		userNumber, err := parseDecimal(userValue)
		if err != nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
			return false
		}
		if condition.DoubleValue == nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, fmt.Errorf("missing number operand"))
			return false
		}
		operand := *condition.DoubleValue
		switch condition.Comparator {
		case domain.NumberEquals:
			return userNumber == operand
		case domain.NumberNotEquals:
			return userNumber != operand
		case domain.NumberLess:
			return userNumber < operand
		case domain.NumberLessEquals:
			return userNumber <= operand
		case domain.NumberGreater:
			return userNumber > operand
		default:
			return userNumber >= operand
		}

	case domain.DateBefore, domain.DateAfter:
		// The attribute is a Unix timestamp in seconds, same decimal
		// normalization as the numeric comparators.
		userSeconds, err := parseDecimal(userValue)
		if err != nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
			return false
		}
		if condition.DoubleValue == nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, fmt.Errorf("missing date operand"))
			return false
		}
		if condition.Comparator == domain.DateBefore {
			return userSeconds < *condition.DoubleValue
		}
		return userSeconds > *condition.DoubleValue

	case domain.SensitiveIsOneOf, domain.SensitiveIsNotOneOf:
		hashed := saltedHash(userValue, configSalt, contextSalt)
		matched := false
		for _, operand := range cleanList(condition.StringListValue) {
			if operand == hashed {
				matched = true
				break
			}
		}
		if condition.Comparator == domain.SensitiveIsNotOneOf {
			return !matched
		}
		return matched

	case domain.HashedEquals:
		return saltedHash(userValue, configSalt, contextSalt) == stringOperand(condition)
	case domain.HashedNotEquals:
		return saltedHash(userValue, configSalt, contextSalt) != stringOperand(condition)

	case domain.HashedStartsWith, domain.HashedNotStartsWith,
		domain.HashedEndsWith, domain.HashedNotEndsWith:
		return e.hashedSliceMatch(condition, userValue, configSalt, contextSalt, ctx)

	case domain.HashedArrayContains, domain.HashedArrayNotContains:
		contains := false
		for _, element := range strings.Split(userValue, ",") {
			if saltedHash(element, configSalt, contextSalt) == stringOperand(condition) {
				contains = true
				break
			}
		}
		if condition.Comparator == domain.HashedArrayNotContains {
			return !contains
		}
		return contains

	default:
		e.warnBadOperand(ctx, condition.ComparisonAttribute,
			fmt.Errorf("unsupported comparator: %d", condition.Comparator))
		return false
	}
}

// hashedSliceMatch handles the hashed prefix/suffix comparators. Operands
// are "<length>_<hash>" tokens: the declared plaintext length and the hash
// of the corresponding slice of the compared value.
func (e *Evaluator) hashedSliceMatch(condition *domain.UserCondition, userValue, configSalt, contextSalt string, ctx *evalContext) bool {
	found := false
	for _, token := range cleanList(condition.StringListValue) {
		separator := strings.Index(token, "_")
		if separator <= 0 {
			return false
		}
		length, err := strconv.Atoi(token[:separator])
		if err != nil {
			e.warnBadOperand(ctx, condition.ComparisonAttribute, err)
			return false
		}
		// A zero-length declared slice is an invalid token, not a match-all.
		if length <= 0 {
			return false
		}
		if len(userValue) < length {
			return false
		}
		operandHash := token[separator+1:]
		if operandHash == "" {
			return false
		}
		var slice string
		if condition.Comparator == domain.HashedStartsWith || condition.Comparator == domain.HashedNotStartsWith {
			slice = userValue[:length]
		} else {
			slice = userValue[len(userValue)-length:]
		}
		if saltedHash(slice, configSalt, contextSalt) == operandHash {
			found = true
		}
	}
	if condition.Comparator == domain.HashedNotStartsWith || condition.Comparator == domain.HashedNotEndsWith {
		return !found
	}
	return found
}

// saltedHash is the single hashing routine shared by every hashed
// comparator: hex(sha256(value + configSalt + contextSalt)).
func saltedHash(value, configSalt, contextSalt string) string {
	sum := sha256.Sum256([]byte(value + configSalt + contextSalt))
	return hex.EncodeToString(sum[:])
}

// bucketOf maps a flag key and bucketing attribute value onto [0,100).
// It must stay stable forever; rollout stickiness depends on it.
func bucketOf(key, attributeValue string) int {
	sum := sha1.Sum([]byte(key + attributeValue))
	hash := hex.EncodeToString(sum[:])[:7]
	value, _ := strconv.ParseInt(hash, 16, 64)
	return int(value % 100)
}

// parseDecimal parses a locale-tolerant decimal: comma decimal separators
// are normalized to dots before parsing.
func parseDecimal(value string) (float64, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	return strconv.ParseFloat(normalized, 64)
}

// cleanList trims every operand and drops the blank ones.
func cleanList(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func stringOperand(condition *domain.UserCondition) string {
	if condition.StringValue == nil {
		return ""
	}
	return *condition.StringValue
}
