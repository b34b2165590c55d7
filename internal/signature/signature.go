// Package signature decides, once per shipment at creation time,
// whether the carrier will demand a signature on delivery. The decision
// fuses heterogeneous carrier and order signals in strict priority
// order; the first signal present wins.
package signature

import "strings"

// Requirement is the fused signature classification.
type Requirement string

const (
	RequirementNone   Requirement = "NONE"
	RequirementDirect Requirement = "DIRECT"
	RequirementAdult  Requirement = "ADULT"
)

// Required collapses the classification to the persisted boolean.
func (r Requirement) Required() bool {
	return r != RequirementNone
}

// Carrier-A delivery confirmation codes that imply a signature.
const (
	carrierACodeAdult  = "2"
	carrierACodeDirect = "3"
)

// Signals carries the raw inputs to classification. Absent signals are
// zero values; upstream lookup failures must be degraded to absence by
// the caller, never passed in as errors.
type Signals struct {
	CarrierACode        string
	CarrierBDescriptor  string
	ShippingRateTitles  []string
	ItemValueCents      int64
	ValueThresholdCents int64
}

// Classify fuses the signals into one Requirement. Pure and total: it
// always terminates with a classification regardless of which signals
// are absent.
func Classify(s Signals) Requirement {
	switch s.CarrierACode {
	case carrierACodeDirect:
		return RequirementDirect
	case carrierACodeAdult:
		return RequirementAdult
	}

	switch s.CarrierBDescriptor {
	case "DIRECT":
		return RequirementDirect
	case "ADULT":
		return RequirementAdult
	}

	for _, title := range s.ShippingRateTitles {
		if strings.Contains(strings.ToLower(title), "signature") {
			return RequirementDirect
		}
	}

	if s.ValueThresholdCents > 0 && s.ItemValueCents >= s.ValueThresholdCents {
		return RequirementDirect
	}

	return RequirementNone
}
