package utils

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
)

// RenderPlan prints the planned tasks
func RenderPlan(w io.Writer, tasks []models.Task) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Task", "City", "Year", "Month", "Strategy"})
	for i, task := range tasks {
		month := task.Month
		if month == "" {
			month = "-"
		}
		t.AppendRow(table.Row{i + 1, task.ID(), task.City, task.Year, month, task.Strategy})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d tasks", len(tasks))})
	t.Render()
}

// RenderSummary prints per-task outcomes and consolidated files
func RenderSummary(w io.Writer, s *models.RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run %s", s.RunID)
	t.AppendHeader(table.Row{"Task", "Status", "Records", "Duration", "Error"})
	for _, o := range s.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = models.ErrorKind(o.Err)
		}
		t.AppendRow(table.Row{o.Task.ID(), o.Status(), o.Records, o.Duration.Round(time.Second), errText})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d done", s.Completed(), s.Planned),
		fmt.Sprintf("%d failed", s.Failed),
		s.Records,
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second),
		"",
	})
	t.Render()

	if len(s.Consolidated) == 0 {
		return
	}
	c := table.NewWriter()
	c.SetOutputMirror(w)
	c.SetStyle(table.StyleLight)
	c.AppendHeader(table.Row{"City", "Year", "Files", "Skipped", "Records", "Output"})
	for _, r := range s.Consolidated {
		out := r.Path
		if out == "" {
			out = "(none)"
		}
		c.AppendRow(table.Row{r.City, r.Year, r.Files, len(r.Skipped), r.Records, out})
	}
	c.Render()
}
