package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservationScore(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"exact phrase", "rate limited", "Endpoint is rate limited at 100rps", 1.0},
		{"case insensitive", "RATE Limited", "rate limited", 1.0},
		{"half the words", "rate billing", "rate limited", 0.2},
		{"phrase inside a word", "limit", "rate limited", 0.6},
		{"repeated query words count once", "auth auth token", "uses auth", 0.2},
		{"no match", "billing", "rate limited", 0},
		{"blank query", "   ", "rate limited", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ObservationScore(tt.query, tt.text), 1e-12)
		})
	}
}
