package model

import "strings"

// RevalidationStatus classifies a record against the latest incoming table.
type RevalidationStatus string

const (
	StatusNew       RevalidationStatus = "new"
	StatusUpdated   RevalidationStatus = "updated"
	StatusUnchanged RevalidationStatus = ""
	StatusMissing   RevalidationStatus = "missing"
)

// ReviewStatusOpen is the review status given to newly inserted records.
const ReviewStatusOpen = "Open"

// DefaultActor is the Updated-By label written by reconciliation.
const DefaultActor = "System"

// DefaultKeySeparator joins key field values into a Match Key.
const DefaultKeySeparator = "-"

// Schema names the business key fields, the client-owned fields and the role of
// each bookkeeping field. Every field not listed as client-owned is a system
// field.
type Schema struct {
	KeyFields    []string `yaml:"key_fields" mapstructure:"key_fields"`
	ClientFields []string `yaml:"client_fields" mapstructure:"client_fields"`
	KeySeparator string   `yaml:"key_separator" mapstructure:"key_separator"`

	ReviewStatus       string `yaml:"review_status" mapstructure:"review_status"`
	OutlierStatus      string `yaml:"outlier_status" mapstructure:"outlier_status"`
	Comment            string `yaml:"comment" mapstructure:"comment"`
	UpdatedDate        string `yaml:"updated_date" mapstructure:"updated_date"`
	UpdatedBy          string `yaml:"updated_by" mapstructure:"updated_by"`
	AuditHistory       string `yaml:"audit_history" mapstructure:"audit_history"`
	RevalidationStatus string `yaml:"revalidation_status" mapstructure:"revalidation_status"`
}

// DefaultSchema returns the outlier table layout.
func DefaultSchema() Schema {
	return Schema{
		KeyFields: []string{
			"COB_DATE",
			"LEVEL2_NAME",
			"LOB",
			"NODE_ID",
			"NODE_NAME",
			"METRIC_NAME",
		},
		ClientFields: []string{
			"REVIEW_STATUS",
			"OUTLIER_STATUS",
			"COMMENT",
			"UPDATED_DATE",
			"UPDATED_BY",
			"AUDIT_HISTORY",
			"REVALIDATION_STATUS",
		},
		KeySeparator:       DefaultKeySeparator,
		ReviewStatus:       "REVIEW_STATUS",
		OutlierStatus:      "OUTLIER_STATUS",
		Comment:            "COMMENT",
		UpdatedDate:        "UPDATED_DATE",
		UpdatedBy:          "UPDATED_BY",
		AuditHistory:       "AUDIT_HISTORY",
		RevalidationStatus: "REVALIDATION_STATUS",
	}
}

// WithDefaults fills empty settings from DefaultSchema. The bookkeeping roles
// are always added to the client field set.
func (s Schema) WithDefaults() Schema {
	d := DefaultSchema()
	if len(s.KeyFields) == 0 {
		s.KeyFields = d.KeyFields
	}
	if len(s.ClientFields) == 0 {
		s.ClientFields = d.ClientFields
	}
	if s.KeySeparator == "" {
		s.KeySeparator = d.KeySeparator
	}
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&s.ReviewStatus, d.ReviewStatus)
	fill(&s.OutlierStatus, d.OutlierStatus)
	fill(&s.Comment, d.Comment)
	fill(&s.UpdatedDate, d.UpdatedDate)
	fill(&s.UpdatedBy, d.UpdatedBy)
	fill(&s.AuditHistory, d.AuditHistory)
	fill(&s.RevalidationStatus, d.RevalidationStatus)

	set := s.ClientSet()
	roles := []string{
		s.ReviewStatus, s.OutlierStatus, s.Comment, s.UpdatedDate,
		s.UpdatedBy, s.AuditHistory, s.RevalidationStatus,
	}
	clients := append([]string(nil), s.ClientFields...)
	for _, r := range roles {
		if !set[r] {
			clients = append(clients, r)
			set[r] = true
		}
	}
	s.ClientFields = clients
	return s
}

// ClientSet returns the client-owned fields as a set.
func (s Schema) ClientSet() map[string]bool {
	set := make(map[string]bool, len(s.ClientFields))
	for _, f := range s.ClientFields {
		set[f] = true
	}
	return set
}

// KeySet returns the business key fields as a set.
func (s Schema) KeySet() map[string]bool {
	set := make(map[string]bool, len(s.KeyFields))
	for _, f := range s.KeyFields {
		set[f] = true
	}
	return set
}

// IsClient reports whether field is client-owned.
func (s Schema) IsClient(field string) bool {
	for _, f := range s.ClientFields {
		if f == field {
			return true
		}
	}
	return false
}

// IsKey reports whether field is part of the Match Key.
func (s Schema) IsKey(field string) bool {
	for _, f := range s.KeyFields {
		if f == field {
			return true
		}
	}
	return false
}
