package main

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateFlags range checks of the command line selection; zero values are
// not set and left to the configuration
func ValidateFlags(years, months []string, workers int) error {
	for _, y := range years {
		n, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil || len(strings.TrimSpace(y)) != 4 {
			return fmt.Errorf("invalid year %q: expected four digits", y)
		}
		if n < 2000 || n > 2100 {
			return fmt.Errorf("year %d out of range 2000-2100", n)
		}
	}

	for _, m := range months {
		n, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil || n < 1 || n > 12 {
			return fmt.Errorf("invalid month %q: expected 1-12", m)
		}
	}

	if workers != 0 && (workers < 1 || workers > 12) {
		return fmt.Errorf("workers must be between 1 and 12, got %d", workers)
	}
	return nil
}
