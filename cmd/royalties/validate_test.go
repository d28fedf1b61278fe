package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		years   []string
		months  []string
		workers int
		wantErr bool
	}{
		{"nothing set", nil, nil, 0, false},
		{"valid selection", []string{"2023", "2024"}, []string{"1", "03", "12"}, 4, false},
		{"short year", []string{"23"}, nil, 0, true},
		{"year not a number", []string{"20x3"}, nil, 0, true},
		{"year out of range", []string{"1999"}, nil, 0, true},
		{"month zero", nil, []string{"0"}, 0, true},
		{"month thirteen", nil, []string{"13"}, 0, true},
		{"month name", nil, []string{"jan"}, 0, true},
		{"negative workers", nil, nil, -1, true},
		{"too many workers", nil, nil, 13, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFlags(tt.years, tt.months, tt.workers)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
