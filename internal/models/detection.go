package models

import (
	"strings"
	"time"
)

// PIIType is the server's detection category.
type PIIType string

const (
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIISSN        PIIType = "ssn"
	PIICreditCard PIIType = "credit_card"
	PIIAddress    PIIType = "address"
	PIIName       PIIType = "name"
	PIIDOB        PIIType = "dob"
	PIIIPAddress  PIIType = "ip_address"
	PIIOther      PIIType = "other"
)

var piiLabels = map[PIIType]string{
	PIIEmail:      "Email Address",
	PIIPhone:      "Phone Number",
	PIISSN:        "Social Security Number",
	PIICreditCard: "Credit Card Number",
	PIIAddress:    "Physical Address",
	PIIName:       "Personal Name",
	PIIDOB:        "Date of Birth",
	PIIIPAddress:  "IP Address",
	PIIOther:      "Other PII",
}

// Label returns the human readable name of the type.
func (t PIIType) Label() string {
	if label, ok := piiLabels[t]; ok {
		return label
	}
	if t == "" {
		return piiLabels[PIIOther]
	}
	return strings.ReplaceAll(string(t), "_", " ")
}

// Detection is one PII finding as stored by the server.
type Detection struct {
	ID              int64     `json:"id"`
	FileUpload      int64     `json:"file_upload"`
	PIIType         PIIType   `json:"pii_type"`
	LineNumber      int       `json:"line_number"`
	ColumnNumber    *int      `json:"column_number"`
	Context         string    `json:"context"`
	ConfidenceScore float64   `json:"confidence_score"`
	MaskedValue     *string   `json:"masked_value"`
	DetectedAt      time.Time `json:"detected_at"`
}

// DetectionView is the {type, value, line} triple shown on the result page.
type DetectionView struct {
	Type  string
	Value string
	Line  int
}

// View flattens a server detection for display; the masked value wins over raw context.
func (d *Detection) View() DetectionView {
	value := d.Context
	if d.MaskedValue != nil && *d.MaskedValue != "" {
		value = *d.MaskedValue
	}
	return DetectionView{Type: d.PIIType.Label(), Value: value, Line: d.LineNumber}
}

// SampleDetections is the fixed result shown when no server-side processing took place.
func SampleDetections() []DetectionView {
	return []DetectionView{
		{Type: "Email", Value: "user@example.com", Line: 5},
		{Type: "Phone Number", Value: "(123) 456-7890", Line: 12},
	}
}

// SampleProcessingTime accompanies SampleDetections.
const SampleProcessingTime = "0.5 seconds"
