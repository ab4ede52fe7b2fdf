package segment

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaignengine/internal/models"
)

func strPtr(s string) *string { return &s }

func testCustomer() *models.Customer {
	lastVisit := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	return &models.Customer{
		ID:         1,
		Name:       "Asha Rao",
		Email:      strPtr("asha@example.com"),
		Phone:      strPtr("9876543210"),
		TotalSpent: 5400,
		VisitCount: 7,
		LastVisit:  &lastVisit,
		Tags:       []string{"vip", "newsletter"},
		CreatedAt:  time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate_EmptyRules(t *testing.T) {
	c := testCustomer()

	assert.True(t, Evaluate(c, nil, models.LogicAll))
	assert.True(t, Evaluate(c, []models.Rule{}, "AND"))
	assert.False(t, Evaluate(c, nil, models.LogicAny))
	assert.False(t, Evaluate(c, []models.Rule{}, "OR"))
}

func TestEvaluate_Operators(t *testing.T) {
	c := testCustomer()

	tests := []struct {
		name string
		rule models.Rule
		want bool
	}{
		{"equals number", models.Rule{Field: "visitCount", Operator: models.OperatorEquals, Value: float64(7)}, true},
		{"equals string", models.Rule{Field: "name", Operator: models.OperatorEquals, Value: "Asha Rao"}, true},
		{"equals tag membership", models.Rule{Field: "tags", Operator: models.OperatorEquals, Value: "vip"}, true},
		{"equals mismatch", models.Rule{Field: "name", Operator: models.OperatorEquals, Value: "Ravi"}, false},
		{"equals type mismatch", models.Rule{Field: "name", Operator: models.OperatorEquals, Value: float64(1)}, false},
		{"not_equals", models.Rule{Field: "visitCount", Operator: models.OperatorNotEquals, Value: float64(3)}, true},
		{"contains substring", models.Rule{Field: "email", Operator: models.OperatorContains, Value: "@example"}, true},
		{"contains tag", models.Rule{Field: "tags", Operator: models.OperatorContains, Value: "newsletter"}, true},
		{"contains missing tag", models.Rule{Field: "tags", Operator: models.OperatorContains, Value: "churned"}, false},
		{"not_contains", models.Rule{Field: "tags", Operator: models.OperatorNotContains, Value: "churned"}, true},
		{"greater_than", models.Rule{Field: "totalSpent", Operator: models.OperatorGreaterThan, Value: float64(5000)}, true},
		{"greater_than snake case", models.Rule{Field: "total_spent", Operator: models.OperatorGreaterThan, Value: "5000"}, true},
		{"greater_than equal value", models.Rule{Field: "totalSpent", Operator: models.OperatorGreaterThan, Value: float64(5400)}, false},
		{"less_than", models.Rule{Field: "visitCount", Operator: models.OperatorLessThan, Value: 10}, true},
		{"less_than date", models.Rule{Field: "lastVisit", Operator: models.OperatorLessThan, Value: "2024-04-01"}, true},
		{"between inclusive low", models.Rule{Field: "visitCount", Operator: models.OperatorBetween, Value: []interface{}{float64(7), float64(9)}}, true},
		{"between inclusive high", models.Rule{Field: "totalSpent", Operator: models.OperatorBetween, Value: []interface{}{float64(1000), float64(5400)}}, true},
		{"between outside", models.Rule{Field: "visitCount", Operator: models.OperatorBetween, Value: []interface{}{float64(8), float64(9)}}, false},
		{"between malformed", models.Rule{Field: "visitCount", Operator: models.OperatorBetween, Value: []interface{}{float64(1)}}, false},
		{"between dates", models.Rule{Field: "last_visit", Operator: models.OperatorBetween, Value: []interface{}{"2024-03-01T00:00:00Z", "2024-03-31T00:00:00Z"}}, true},
		{"unknown operator", models.Rule{Field: "visitCount", Operator: "regex", Value: ".*"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(c, []models.Rule{tt.rule}, models.LogicAll))
		})
	}
}

func TestEvaluate_MissingField(t *testing.T) {
	c := &models.Customer{ID: 2, Name: "No Contact"}

	tests := []struct {
		name string
		rule models.Rule
		want bool
	}{
		{"equals", models.Rule{Field: "email", Operator: models.OperatorEquals, Value: "x"}, false},
		{"not_equals", models.Rule{Field: "email", Operator: models.OperatorNotEquals, Value: "x"}, true},
		{"contains", models.Rule{Field: "tags", Operator: models.OperatorContains, Value: "vip"}, false},
		{"not_contains", models.Rule{Field: "tags", Operator: models.OperatorNotContains, Value: "vip"}, false},
		{"greater_than", models.Rule{Field: "lastVisit", Operator: models.OperatorGreaterThan, Value: "2024-01-01"}, false},
		{"less_than", models.Rule{Field: "lastVisit", Operator: models.OperatorLessThan, Value: "2024-01-01"}, false},
		{"between", models.Rule{Field: "lastVisit", Operator: models.OperatorBetween, Value: []interface{}{"2024-01-01", "2025-01-01"}}, false},
		{"unknown field", models.Rule{Field: "loyaltyTier", Operator: models.OperatorGreaterThan, Value: float64(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, Evaluate(c, []models.Rule{tt.rule}, models.LogicAll))
			})
		})
	}
}

func TestEvaluate_Logic(t *testing.T) {
	c := testCustomer()
	rules := []models.Rule{
		{Field: "visitCount", Operator: models.OperatorGreaterThan, Value: float64(5)},
		{Field: "tags", Operator: models.OperatorContains, Value: "churned"},
	}

	assert.False(t, Evaluate(c, rules, models.LogicAll))
	assert.True(t, Evaluate(c, rules, models.LogicAny))
	assert.True(t, Evaluate(c, rules, "or"))
	assert.False(t, Evaluate(c, rules, "bogus"), "unknown logic falls back to ALL")
	assert.False(t, Evaluate(nil, nil, models.LogicAll))
}

func TestEvaluate_DecodedJSONRules(t *testing.T) {
	var rules []models.Rule
	body := `[{"field":"totalSpent","operator":"between","value":[5000,6000]},{"field":"tags","operator":"contains","value":"vip"}]`
	require.NoError(t, json.Unmarshal([]byte(body), &rules))

	assert.True(t, Evaluate(testCustomer(), rules, "AND"))
}

func TestMatch(t *testing.T) {
	big := testCustomer()
	small := &models.Customer{ID: 2, Name: "Small", TotalSpent: 10}

	rules := []models.Rule{{Field: "totalSpent", Operator: models.OperatorGreaterThan, Value: float64(100)}}
	matched := Match([]*models.Customer{small, big}, rules, models.LogicAll)

	require.Len(t, matched, 1)
	assert.Equal(t, big.ID, matched[0].ID)
}

func TestEvaluate_Concurrent(t *testing.T) {
	c := testCustomer()
	rules := []models.Rule{
		{Field: "visitCount", Operator: models.OperatorBetween, Value: []interface{}{float64(1), float64(10)}},
		{Field: "tags", Operator: models.OperatorContains, Value: "vip"},
	}

	var wg sync.WaitGroup
	results := make([]bool, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Evaluate(c, rules, models.LogicAll)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.True(t, r)
	}
}

func TestValidateRules(t *testing.T) {
	assert.NoError(t, ValidateRules(nil, ""))
	assert.NoError(t, ValidateRules([]models.Rule{
		{Field: "visitCount", Operator: models.OperatorBetween, Value: []interface{}{float64(1), float64(2)}},
	}, "OR"))

	assert.Error(t, ValidateRules(nil, "XOR"))
	assert.Error(t, ValidateRules([]models.Rule{{Field: "", Operator: models.OperatorEquals, Value: "a"}}, models.LogicAll))
	assert.Error(t, ValidateRules([]models.Rule{{Field: "a", Operator: "regex", Value: "a"}}, models.LogicAll))
	assert.Error(t, ValidateRules([]models.Rule{{Field: "a", Operator: models.OperatorBetween, Value: float64(1)}}, models.LogicAll))
	assert.Error(t, ValidateRules([]models.Rule{{Field: "a", Operator: models.OperatorGreaterThan, Value: nil}}, models.LogicAll))
}
