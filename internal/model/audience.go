// internal/model/audience.go
package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	AudienceStatic  = "static"
	AudienceDynamic = "dynamic"

	RuleFieldStatus       = "status"
	RuleFieldSubscription = "subscription"
)

type Audience struct {
	ID      uuid.UUID       `db:"id" json:"id"`
	Name    string          `db:"name" json:"name"`
	Filters AudienceFilters `db:"filters" json:"filters"`
}

type AudienceFilters struct {
	AudienceType string         `json:"audience_type"`
	Rules        []AudienceRule `json:"rules"`
}

type AudienceRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value"`
}

// IsStatic reports whether membership comes from the junction table.
// Anything not explicitly static is evaluated as a dynamic rule set.
func (a *Audience) IsStatic() bool {
	return a.Filters.AudienceType == AudienceStatic
}

// RuleValues returns the status and subscription tier named by the rules.
// The last rule for a field wins.
func (a *Audience) RuleValues() (status, subscription string) {
	for _, r := range a.Filters.Rules {
		switch r.Field {
		case RuleFieldStatus:
			status = r.Value
		case RuleFieldSubscription:
			subscription = r.Value
		}
	}
	return status, subscription
}

// ParseFilters decodes the jsonb filters column. NULL or empty yields zero filters.
func ParseFilters(raw []byte) (AudienceFilters, error) {
	var f AudienceFilters
	if len(raw) == 0 || string(raw) == "null" {
		return f, nil
	}
	err := json.Unmarshal(raw, &f)
	return f, err
}
