package tempfilter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccept(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		ok        bool
		threshold float64
		want      bool
	}{
		{"above", 25.1, true, 25, true},
		{"equal is rejected", 25, true, 25, false},
		{"below", 24.9, true, 25, false},
		{"no value", 100, false, 25, false},
		{"negative threshold", -1, true, -2, true},
		{"NaN", math.NaN(), true, 25, false},
		{"infinite", math.Inf(1), true, 25, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Accept(tt.value, tt.ok, tt.threshold))
		})
	}
}

func TestPredicate_ReadsLiveThreshold(t *testing.T) {
	state := NewFilterState(25)
	p := NewPredicate(state)

	accepted, threshold := p.Evaluate(26, true)
	assert.True(t, accepted)
	assert.Equal(t, 25.0, threshold)

	state.SetThreshold(30)
	accepted, threshold = p.Evaluate(26, true)
	assert.False(t, accepted)
	assert.Equal(t, 30.0, threshold)
}
