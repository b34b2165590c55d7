package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const threshold = int64(50000)

func TestClassifyPriorityOrder(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		want    Requirement
	}{
		{
			name:    "carrier A direct code wins",
			signals: Signals{CarrierACode: "3", CarrierBDescriptor: "ADULT", ValueThresholdCents: threshold},
			want:    RequirementDirect,
		},
		{
			name:    "carrier A adult code wins",
			signals: Signals{CarrierACode: "2", ValueThresholdCents: threshold},
			want:    RequirementAdult,
		},
		{
			name:    "unknown carrier A code falls through",
			signals: Signals{CarrierACode: "9", CarrierBDescriptor: "DIRECT", ValueThresholdCents: threshold},
			want:    RequirementDirect,
		},
		{
			name:    "carrier B adult descriptor",
			signals: Signals{CarrierBDescriptor: "ADULT", ValueThresholdCents: threshold},
			want:    RequirementAdult,
		},
		{
			name:    "carrier B descriptor is exact match only",
			signals: Signals{CarrierBDescriptor: "adult", ValueThresholdCents: threshold},
			want:    RequirementNone,
		},
		{
			name: "rate title substring is case insensitive",
			signals: Signals{
				ShippingRateTitles:  []string{"Standard", "Priority + Signature Required"},
				ValueThresholdCents: threshold,
			},
			want: RequirementDirect,
		},
		{
			name:    "value at threshold",
			signals: Signals{ItemValueCents: threshold, ValueThresholdCents: threshold},
			want:    RequirementDirect,
		},
		{
			name:    "value below threshold",
			signals: Signals{ItemValueCents: threshold - 1, ValueThresholdCents: threshold},
			want:    RequirementNone,
		},
		{
			name:    "no signals",
			signals: Signals{ValueThresholdCents: threshold},
			want:    RequirementNone,
		},
		{
			name: "high value order with no carrier codes and plain rates",
			signals: Signals{
				ItemValueCents:      89999,
				ShippingRateTitles:  []string{"Economy"},
				ValueThresholdCents: threshold,
			},
			want: RequirementDirect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.signals))
		})
	}
}

func TestRequired(t *testing.T) {
	assert.False(t, RequirementNone.Required())
	assert.True(t, RequirementDirect.Required())
	assert.True(t, RequirementAdult.Required())
}
