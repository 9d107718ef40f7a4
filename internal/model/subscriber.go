// internal/model/subscriber.go
package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
	SubscriberInactive     = "INACTIVE"
)

type Subscriber struct {
	ID       uuid.UUID          `db:"id" json:"id"`
	Email    string             `db:"email" json:"email"`
	Status   string             `db:"status" json:"status"`
	UserID   *uuid.UUID         `db:"user_id" json:"user_id,omitempty"`
	Metadata SubscriberMetadata `db:"metadata" json:"metadata"`
}

// IsActive reports whether the subscriber may receive campaign mail.
func (s *Subscriber) IsActive() bool {
	return s.Status == SubscriberActive
}

// SubscriberMetadata holds the profile fields used for personalization.
type SubscriberMetadata struct {
	FirstName        string
	LastName         string
	Subscription     string
	LifetimePurchase string
	CompanyName      string
}

// ParseMetadata decodes the jsonb metadata column. Both snake_case and
// camelCase keys are accepted for the purchase and company fields.
func ParseMetadata(raw []byte) (SubscriberMetadata, error) {
	var m SubscriberMetadata
	if len(raw) == 0 || string(raw) == "null" {
		return m, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return m, err
	}

	m.FirstName = stringField(fields, "first_name")
	m.LastName = stringField(fields, "last_name")
	m.Subscription = stringField(fields, "subscription")
	m.LifetimePurchase = stringField(fields, "lifetime_purchase", "lifetimePurchase")
	m.CompanyName = stringField(fields, "company_name", "companyName")
	return m, nil
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch n := v.(type) {
		case float64:
			// Plain digits: 1000000, not 1e+06.
			s = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			s = fmt.Sprint(v)
		}
		if s != "" {
			return s
		}
	}
	return ""
}
