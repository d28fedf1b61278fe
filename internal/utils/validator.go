package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL checks a portal URL
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("URL has no scheme (http/https)")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https")
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL has no host")
	}

	return nil
}

// ValidateName checks a city identifier used in file names
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	if strings.ContainsAny(name, `/\ .`) {
		return fmt.Errorf("name %q must not contain path separators, dots or spaces", name)
	}
	return nil
}
