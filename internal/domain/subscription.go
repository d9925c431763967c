package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Subscription registers a callback URL for a set of event types. Secret is
// optional; when empty, outbound deliveries are unsigned.
type Subscription struct {
	ID         uuid.UUID `json:"id"`
	TargetURL  string    `json:"target_url"`
	Secret     string    `json:"secret,omitempty"`
	EventTypes []string  `json:"event_types"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AllowsEventType reports whether the subscription accepts the given type.
func (s *Subscription) AllowsEventType(eventType string) bool {
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// ValidateTargetURL checks that raw is a well-formed absolute http(s) URL.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url scheme %q: must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url: missing host")
	}
	return nil
}

// ValidateEventTypes checks the allowed-type set is non-empty with no blanks.
func ValidateEventTypes(types []string) error {
	if len(types) == 0 {
		return fmt.Errorf("event_types must not be empty")
	}
	for _, et := range types {
		if strings.TrimSpace(et) == "" {
			return fmt.Errorf("event_types must not contain empty strings")
		}
	}
	return nil
}
