package models

import (
	"strings"
	"time"
)

// Operator is a segment rule comparison operator
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorBetween     Operator = "between"
)

// RuleLogic controls how rule results are combined
type RuleLogic string

const (
	LogicAll RuleLogic = "ALL"
	LogicAny RuleLogic = "ANY"
)

// Normalize maps the AND/OR aliases onto ALL/ANY
func (l RuleLogic) Normalize() RuleLogic {
	switch strings.ToUpper(strings.TrimSpace(string(l))) {
	case "ANY", "OR":
		return LogicAny
	case "ALL", "AND", "":
		return LogicAll
	default:
		return l
	}
}

// IsValid reports whether the logic is a known value or alias
func (l RuleLogic) IsValid() bool {
	n := l.Normalize()
	return n == LogicAll || n == LogicAny
}

// Rule is a single segment predicate
type Rule struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Segment is a named, reusable rule set
type Segment struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Rules       []Rule    `json:"rules" db:"rules"`
	Logic       RuleLogic `json:"rule_logic" db:"rule_logic"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
