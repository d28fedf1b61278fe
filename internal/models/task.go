package models

import (
	"fmt"
	"regexp"
)

// Strategy extraction strategy of a task
type Strategy string

const (
	StrategyMonthly Strategy = "monthly" // one task per (city, year, month)
	StrategyAnnual  Strategy = "annual"  // one two-phase batch task per (city, year)
)

// CityMode how a city's tasks are planned
type CityMode string

const (
	ModeMonthly CityMode = "monthly" // portal supports month filtering
	ModeAnnual  CityMode = "annual"  // portal only filters by year
	ModeAuto    CityMode = "auto"    // monthly when months are given, annual otherwise
)

// TaskStatus terminal status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task one independent unit of extraction work. Immutable once planned.
type Task struct {
	City     string   `json:"city"`
	Year     string   `json:"year"`
	Month    string   `json:"month,omitempty"` // empty for annual tasks
	Strategy Strategy `json:"strategy"`
}

// ID stable identifier used in logs, progress events and file names
func (t Task) ID() string {
	if t.Month == "" {
		return fmt.Sprintf("%s-%s-anual", t.City, t.Year)
	}
	return fmt.Sprintf("%s-%s-%s", t.City, t.Year, t.Month)
}

// Group key of the (city, year) consolidation barrier
func (t Task) Group() GroupKey {
	return GroupKey{City: t.City, Year: t.Year}
}

// GroupKey identifies the sibling tasks of one consolidated file
type GroupKey struct {
	City string
	Year string
}

func (g GroupKey) String() string {
	return g.City + "-" + g.Year
}

// CityConfig portal settings for one municipality
type CityConfig struct {
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	Portal        string   `json:"portal"`                   // driver registry key
	Mode          CityMode `json:"mode"`                     // monthly | annual | auto
	Iframe        string   `json:"iframe,omitempty"`         // frame holding the portal, if any
	FundingField  string   `json:"funding_field"`            // normalized key of the funding-source field
	Terms         []string `json:"terms,omitempty"`          // overrides RunConfig.Terms when set
	DetailFetch   string   `json:"detail_fetch,omitempty"`   // browser | http
	PagedURLQuery string   `json:"paged_url_query,omitempty"` // query template used by SeekPage
}

// MonthFilterable reports whether a task for this city is split by month
func (c CityConfig) MonthFilterable(explicitMonths bool) bool {
	switch c.Mode {
	case ModeAnnual:
		return false
	case ModeAuto:
		return explicitMonths
	default:
		return true
	}
}

// RunConfig typed configuration of one batch run, resolved once before planning
type RunConfig struct {
	Cities   []CityConfig `json:"cities"`
	Years    []string     `json:"years"`
	Months   []string     `json:"months,omitempty"` // empty means all twelve
	Workers  int          `json:"workers"`
	Headless bool         `json:"headless"`
	Terms    []string     `json:"terms"`
}

var (
	yearPattern  = regexp.MustCompile(`^\d{4}$`)
	monthPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])$`)
)

// Validate checks required fields and value ranges
func (c *RunConfig) Validate() error {
	if len(c.Cities) == 0 {
		return fmt.Errorf("no city selected")
	}
	if len(c.Years) == 0 {
		return fmt.Errorf("no year selected")
	}
	if c.Workers < 1 || c.Workers > 12 {
		return fmt.Errorf("workers must be between 1 and 12, got %d", c.Workers)
	}
	// each (city, year, month) owns one unit file, so a repeated year or
	// month would put two writers on it
	years := make(map[string]bool, len(c.Years))
	for _, y := range c.Years {
		if !yearPattern.MatchString(y) {
			return fmt.Errorf("invalid year %q: expected four digits", y)
		}
		if years[y] {
			return fmt.Errorf("year %s selected twice", y)
		}
		years[y] = true
	}
	months := make(map[string]bool, len(c.Months))
	for _, m := range c.Months {
		if !monthPattern.MatchString(m) {
			return fmt.Errorf("invalid month %q: expected 01..12", m)
		}
		if months[m] {
			return fmt.Errorf("month %s selected twice", m)
		}
		months[m] = true
	}

	seen := make(map[string]bool, len(c.Cities))
	for _, city := range c.Cities {
		if city.Name == "" {
			return fmt.Errorf("city without name")
		}
		if seen[city.Name] {
			return fmt.Errorf("city %q selected twice", city.Name)
		}
		seen[city.Name] = true

		if city.URL == "" {
			return fmt.Errorf("city %q: url is required", city.Name)
		}
		if city.Portal == "" {
			return fmt.Errorf("city %q: portal is required", city.Name)
		}
		switch city.Mode {
		case ModeMonthly, ModeAnnual, ModeAuto:
		default:
			return fmt.Errorf("city %q: invalid mode %q", city.Name, city.Mode)
		}
		if city.FundingField == "" {
			return fmt.Errorf("city %q: funding_field is required", city.Name)
		}
		if len(city.Terms) == 0 && len(c.Terms) == 0 {
			return fmt.Errorf("city %q: no royalty terms configured", city.Name)
		}
	}
	return nil
}

// TermsFor term list applied to a city's records
func (c *RunConfig) TermsFor(city CityConfig) []string {
	if len(city.Terms) > 0 {
		return city.Terms
	}
	return c.Terms
}

// City looks up a selected city by name
func (c *RunConfig) City(name string) (CityConfig, bool) {
	for _, city := range c.Cities {
		if city.Name == name {
			return city, true
		}
	}
	return CityConfig{}, false
}
