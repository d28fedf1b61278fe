package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// Progress writes the line-oriented progress stream and drives the terminal bar.
// Safe for concurrent use by workers.
type Progress struct {
	mu      sync.Mutex
	events  zerolog.Logger
	bar     *progressbar.ProgressBar
	runID   string
	planned int
	done    int
}

// NewProgress creates a progress sink writing one JSON object per line to w.
// bar may be nil.
func NewProgress(w io.Writer, runID string, planned int, bar *progressbar.ProgressBar) *Progress {
	return &Progress{
		events:  zerolog.New(w).With().Timestamp().Logger().Level(zerolog.TraceLevel),
		bar:     bar,
		runID:   runID,
		planned: planned,
	}
}

// Emit writes one event
func (p *Progress) Emit(ev models.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev.RunID = p.runID
	if ev.Kind == models.EventTaskCompleted {
		p.done++
		ev.Completed = p.done
		ev.Planned = p.planned
		if p.bar != nil {
			_ = p.bar.Add(1)
		}
	}

	e := p.events.Log().
		Str("kind", string(ev.Kind)).
		Str("run_id", ev.RunID)
	if ev.TaskID != "" {
		e = e.Str("task_id", ev.TaskID).Str("city", ev.City).Str("year", ev.Year)
	} else if ev.City != "" {
		e = e.Str("city", ev.City).Str("year", ev.Year)
	}
	if ev.Month != "" {
		e = e.Str("month", ev.Month)
	}
	if ev.Page > 0 {
		e = e.Int("page", ev.Page)
	}
	e = e.Int("records", ev.Records)
	if ev.Kind == models.EventTaskCompleted {
		e = e.Int("completed", ev.Completed).
			Int("planned", ev.Planned).
			Float64("progress", Fraction(ev.Completed, ev.Planned))
	}
	if ev.Path != "" {
		e = e.Str("path", ev.Path)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Send()
}

// Completed number of task_completed events seen
func (p *Progress) Completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Fraction completed tasks over planned tasks
func Fraction(completed, planned int) float64 {
	if planned <= 0 {
		return 0
	}
	return float64(completed) / float64(planned)
}

// Reporter writes JSON run reports
type Reporter struct {
	outputDir string
}

// NewReporter creates a reporter writing under <outputDir>/reports
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// SaveRunReport writes the run summary as run_<id>.json and returns its path
func (r *Reporter) SaveRunReport(summary *models.RunSummary) (string, error) {
	reportsDir := filepath.Join(r.outputDir, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}

	name := fmt.Sprintf("run_%s_%s.json", summary.StartedAt.Format("20060102-150405"), summary.RunID)
	if err := r.saveJSONReport(reportsDir, name, summary); err != nil {
		return "", err
	}
	return filepath.Join(reportsDir, name), nil
}

// saveJSONReport writes data as indented JSON
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	Debugf("report saved: %s", path)
	return nil
}

// NewProgressBar creates the terminal progress bar
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
