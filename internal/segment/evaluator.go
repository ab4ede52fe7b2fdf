// Package segment evaluates segment rules against customer snapshots.
//
// Evaluation is pure: it never touches storage, never returns an error and is
// safe to call from any number of goroutines.
package segment

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"campaignengine/internal/models"
)

// Evaluate reports whether the customer satisfies the rule set.
// ALL over no rules matches everyone, ANY over no rules matches nobody.
// Unknown logic values are treated as ALL.
func Evaluate(customer *models.Customer, rules []models.Rule, logic models.RuleLogic) bool {
	if customer == nil {
		return false
	}

	if logic.Normalize() == models.LogicAny {
		for _, rule := range rules {
			if evaluateRule(customer, rule) {
				return true
			}
		}
		return false
	}

	for _, rule := range rules {
		if !evaluateRule(customer, rule) {
			return false
		}
	}
	return true
}

// Match returns the customers that satisfy the rule set, preserving order
func Match(customers []*models.Customer, rules []models.Rule, logic models.RuleLogic) []*models.Customer {
	matched := make([]*models.Customer, 0, len(customers))
	for _, c := range customers {
		if Evaluate(c, rules, logic) {
			matched = append(matched, c)
		}
	}
	return matched
}

// ValidateRules checks a rule set is well formed before it is stored or previewed.
// Evaluate itself tolerates anything ValidateRules rejects.
func ValidateRules(rules []models.Rule, logic models.RuleLogic) error {
	if !logic.IsValid() {
		return fmt.Errorf("invalid rule logic %q: must be ALL or ANY", logic)
	}

	for i, rule := range rules {
		if strings.TrimSpace(rule.Field) == "" {
			return fmt.Errorf("rule %d: field is required", i)
		}

		switch rule.Operator {
		case models.OperatorEquals, models.OperatorNotEquals,
			models.OperatorContains, models.OperatorNotContains:
			if rule.Value == nil {
				return fmt.Errorf("rule %d: value is required", i)
			}
		case models.OperatorGreaterThan, models.OperatorLessThan:
			if rule.Value == nil || isSlice(rule.Value) {
				return fmt.Errorf("rule %d: %s requires a single value", i, rule.Operator)
			}
		case models.OperatorBetween:
			if _, _, ok := bounds(rule.Value); !ok {
				return fmt.Errorf("rule %d: between requires a two element [min, max] value", i)
			}
		default:
			return fmt.Errorf("rule %d: unknown operator %q", i, rule.Operator)
		}
	}

	return nil
}

func evaluateRule(customer *models.Customer, rule models.Rule) bool {
	value, present := customer.Field(rule.Field)

	switch rule.Operator {
	case models.OperatorEquals:
		return present && equals(value, rule.Value)
	case models.OperatorNotEquals:
		return !present || !equals(value, rule.Value)
	case models.OperatorContains:
		return present && contains(value, rule.Value)
	case models.OperatorNotContains:
		return present && !contains(value, rule.Value)
	case models.OperatorGreaterThan:
		if !present {
			return false
		}
		c, ok := compare(value, rule.Value)
		return ok && c > 0
	case models.OperatorLessThan:
		if !present {
			return false
		}
		c, ok := compare(value, rule.Value)
		return ok && c < 0
	case models.OperatorBetween:
		if !present {
			return false
		}
		lo, hi, ok := bounds(rule.Value)
		if !ok {
			return false
		}
		cLo, okLo := compare(value, lo)
		cHi, okHi := compare(value, hi)
		return okLo && okHi && cLo >= 0 && cHi <= 0
	default:
		return false
	}
}

func equals(field, want interface{}) bool {
	if tags, ok := field.([]string); ok {
		if wantTags, ok := toStrings(want); ok {
			if len(wantTags) != len(tags) {
				return false
			}
			for i := range tags {
				if tags[i] != wantTags[i] {
					return false
				}
			}
			return true
		}
		s, ok := want.(string)
		return ok && containsString(tags, s)
	}

	c, ok := compare(field, want)
	return ok && c == 0
}

func contains(field, want interface{}) bool {
	switch v := field.(type) {
	case string:
		s, ok := want.(string)
		return ok && strings.Contains(v, s)
	case []string:
		if s, ok := want.(string); ok {
			return containsString(v, s)
		}
		if all, ok := toStrings(want); ok {
			for _, s := range all {
				if !containsString(v, s) {
					return false
				}
			}
			return len(all) > 0
		}
	}
	return false
}

// compare orders a customer field value against a rule operand.
// The boolean is false when the two cannot be compared.
func compare(field, operand interface{}) (int, bool) {
	switch v := field.(type) {
	case int:
		return compareFloat(float64(v), operand)
	case float64:
		return compareFloat(v, operand)
	case time.Time:
		t, ok := toTime(operand)
		if !ok {
			return 0, false
		}
		return v.Compare(t), true
	case string:
		s, ok := operand.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(v, s), true
	}
	return 0, false
}

func compareFloat(f float64, operand interface{}) (int, bool) {
	o, ok := toFloat(operand)
	if !ok {
		return 0, false
	}
	switch {
	case f < o:
		return -1, true
	case f > o:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toStrings(v interface{}) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// bounds extracts the [min, max] pair of a between operand
func bounds(v interface{}) (interface{}, interface{}, bool) {
	if !isSlice(v) {
		return nil, nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Len() != 2 {
		return nil, nil, false
	}
	return rv.Index(0).Interface(), rv.Index(1).Interface(), true
}

func isSlice(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
