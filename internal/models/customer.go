package models

import (
	"strings"
	"time"
)

// Channel represents a delivery channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Contact is one reachable channel of a customer
type Contact struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
}

// Customer represents a customer in the system
type Customer struct {
	ID         int        `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Email      *string    `json:"email,omitempty" db:"email"`
	Phone      *string    `json:"phone,omitempty" db:"phone"`
	TotalSpent float64    `json:"total_spent" db:"total_spent"`
	VisitCount int        `json:"visit_count" db:"visit_count"`
	LastVisit  *time.Time `json:"last_visit,omitempty" db:"last_visit"`
	Tags       []string   `json:"tags" db:"tags"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Contacts returns the channels this customer can be reached on, email first
func (c *Customer) Contacts() []Contact {
	contacts := make([]Contact, 0, 2)
	if c.Email != nil && strings.TrimSpace(*c.Email) != "" {
		contacts = append(contacts, Contact{Channel: ChannelEmail, Address: strings.TrimSpace(*c.Email)})
	}
	if c.Phone != nil && strings.TrimSpace(*c.Phone) != "" {
		contacts = append(contacts, Contact{Channel: ChannelSMS, Address: strings.TrimSpace(*c.Phone)})
	}
	return contacts
}

// Field looks up a segmentable attribute by name.
// Both camelCase and snake_case names are accepted. The boolean is false when
// the field is unknown or has no value for this customer.
func (c *Customer) Field(name string) (interface{}, bool) {
	switch normalizeFieldName(name) {
	case "id":
		return c.ID, true
	case "name":
		if c.Name == "" {
			return nil, false
		}
		return c.Name, true
	case "email":
		if c.Email == nil || *c.Email == "" {
			return nil, false
		}
		return *c.Email, true
	case "phone":
		if c.Phone == nil || *c.Phone == "" {
			return nil, false
		}
		return *c.Phone, true
	case "totalspent":
		return c.TotalSpent, true
	case "visitcount":
		return c.VisitCount, true
	case "lastvisit":
		if c.LastVisit == nil {
			return nil, false
		}
		return *c.LastVisit, true
	case "tags":
		if c.Tags == nil {
			return nil, false
		}
		return c.Tags, true
	case "createdat":
		if c.CreatedAt.IsZero() {
			return nil, false
		}
		return c.CreatedAt, true
	default:
		return nil, false
	}
}

// FirstName returns the first word of the customer's name
func (c *Customer) FirstName() string {
	fields := strings.Fields(c.Name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// DisplayName returns the customer's name or a generic fallback
func (c *Customer) DisplayName() string {
	if strings.TrimSpace(c.Name) == "" {
		return "Customer"
	}
	return strings.TrimSpace(c.Name)
}

func normalizeFieldName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
}
