package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"campaignengine/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

var knownPlaceholders = map[string]bool{
	"{name}":        true,
	"{first_name}":  true,
	"{email}":       true,
	"{phone}":       true,
	"{total_spent}": true,
	"{visit_count}": true,
}

// TemplateService handles message personalization
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render replaces {field} placeholders with the customer's values.
// Missing values render as an empty string and unknown placeholders are left as-is.
func (s *TemplateService) Render(template string, customer *models.Customer) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template cannot be empty")
	}
	if customer == nil {
		return "", fmt.Errorf("customer cannot be nil")
	}

	var email, phone string
	if customer.Email != nil {
		email = *customer.Email
	}
	if customer.Phone != nil {
		phone = *customer.Phone
	}

	r := strings.NewReplacer(
		"{name}", customer.DisplayName(),
		"{first_name}", customer.FirstName(),
		"{email}", email,
		"{phone}", phone,
		"{total_spent}", strconv.FormatFloat(customer.TotalSpent, 'f', 2, 64),
		"{visit_count}", strconv.Itoa(customer.VisitCount),
	)

	return r.Replace(template), nil
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("message cannot be empty")
	}

	openCount := strings.Count(template, "{")
	closeCount := strings.Count(template, "}")
	if openCount != closeCount {
		return fmt.Errorf("message has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	return nil
}

// UnknownPlaceholders returns the placeholders Render will not substitute
func (s *TemplateService) UnknownPlaceholders(template string) []string {
	unknown := []string{}
	for _, p := range placeholderPattern.FindAllString(template, -1) {
		if !knownPlaceholders[p] {
			unknown = append(unknown, p)
		}
	}
	return unknown
}
