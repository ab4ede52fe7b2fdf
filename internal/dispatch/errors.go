package dispatch

import (
	"fmt"
	"strings"

	"campaignengine/internal/models"
)

// ChannelDeliveryError is a failure of a single channel for a single customer
type ChannelDeliveryError struct {
	Channel models.Channel
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// AllChannelsFailedError means no channel accepted the message.
// A customer with no reachable channel also gets this error.
type AllChannelsFailedError struct {
	CustomerID int
	Failures   []*ChannelDeliveryError
}

func (e *AllChannelsFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("all message delivery channels failed for customer %d: no reachable channel", e.CustomerID)
	}
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.Error())
	}
	return fmt.Sprintf("all message delivery channels failed for customer %d: %s", e.CustomerID, strings.Join(reasons, "; "))
}

// InvalidPhoneError is returned when a phone number cannot be normalized
type InvalidPhoneError struct {
	Raw    string
	Digits int
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone number %q: %d digits after normalization", e.Raw, e.Digits)
}
