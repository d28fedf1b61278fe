package models

import (
	"fmt"

	"github.com/google/uuid"
)

// CanonicalMonths the twelve two-digit month codes
func CanonicalMonths() []string {
	months := make([]string, 12)
	for i := range months {
		months[i] = fmt.Sprintf("%02d", i+1)
	}
	return months
}

// NewRunID generates a unique run identifier
func NewRunID() string {
	return uuid.New().String()
}
