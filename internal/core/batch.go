package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/classify"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/crawlers"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/models"
	"github.com/jeanclaudio13/etl-transparencia-sergipe/internal/utils"
	"github.com/rs/zerolog"
)

// BatchSessions opens the sessions used by an annual task
type BatchSessions interface {
	NewBatchLister(ctx context.Context, city models.CityConfig) (crawlers.BatchLister, error)
	NewDetailReader(ctx context.Context, city models.CityConfig) (crawlers.DetailReader, error)
}

// RunBatch extracts an annual task in two phases: detail links are collected
// in batches of LinksPerBatch pages, each on a fresh session, then the links
// are split across detail readers. Links collected before a pagination
// failure are still read; the failure is returned afterwards.
func (e *Engine) RunBatch(ctx context.Context, sessions BatchSessions, task models.Task, city models.CityConfig, cls *classify.Classifier, agg *Aggregator) error {
	log := zerolog.Ctx(ctx)

	links, collectErr := e.CollectLinks(ctx, sessions, task, city)
	log.Info().Int("links", len(links)).Msg("link collection finished")
	if len(links) == 0 {
		return collectErr
	}

	readErr := e.ReadDetails(ctx, sessions, task, city, cls, links, agg)
	if collectErr != nil {
		return collectErr
	}
	return readErr
}

// CollectLinks phase one of an annual task
func (e *Engine) CollectLinks(ctx context.Context, sessions BatchSessions, task models.Task, city models.CityConfig) ([]string, error) {
	log := zerolog.Ctx(utils.WithField(ctx, "phase", "links"))
	var links []string

	for start := 1; ; start += e.config.LinksPerBatch {
		lister, err := sessions.NewBatchLister(ctx, city)
		if err != nil {
			return links, models.NewTaskError(models.ErrSessionStart, task.ID(), "open link session", err)
		}

		log.Info().Int("start_page", start).Int("pages", e.config.LinksPerBatch).Msg("collecting link batch")
		found, more, err := e.collectBatch(ctx, lister, task, city, start)
		if cerr := lister.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("close link session")
		}
		links = append(links, found...)
		log.Info().Int("found", len(found)).Int("total", len(links)).Msg("link batch done")

		if err != nil {
			return links, err
		}
		if !more {
			return links, nil
		}
	}
}

// collectBatch reads up to LinksPerBatch pages starting at page start
func (e *Engine) collectBatch(ctx context.Context, d crawlers.BatchLister, task models.Task, city models.CityConfig, start int) ([]string, bool, error) {
	log := zerolog.Ctx(ctx)
	m := e.newMachine(task)

	if err := Retry(ctx, e.retryPolicy(), func(int) error {
		return d.SeekPage(ctx, task.Year, start)
	}); err != nil {
		return nil, false, e.fail(ctx, d, m, city, fmt.Sprintf("seek page %d", start), err)
	}
	m.to(StateFilterApplied)

	var links []string
	for i := 0; i < e.config.LinksPerBatch; i++ {
		page := start + i
		rows, err := d.ExtractRows(ctx)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("link extraction failed, treating page as empty")
			rows = nil
		}
		n := 0
		for _, row := range rows {
			if link, ok := row.Get(crawlers.FieldDetailLink); ok && link != "" {
				links = append(links, link)
				n++
			}
		}
		m.to(StatePageExtracted)

		ev := models.NewTaskEvent(models.EventPageExtracted, task)
		ev.Page = page
		ev.Records = n
		e.emit(ev)

		last := i == e.config.LinksPerBatch-1
		more, err := e.advance(ctx, d, m, city, !last)
		if err != nil {
			return links, false, err
		}
		if !more || last {
			return links, more, nil
		}
	}
	return links, true, nil
}

// ReadDetails phase two: min(Workers, len(links)) contiguous chunks, one
// detail reader session per chunk. Per-link failures are logged and skipped.
func (e *Engine) ReadDetails(ctx context.Context, sessions BatchSessions, task models.Task, city models.CityConfig, cls *classify.Classifier, links []string, agg *Aggregator) error {
	ctx = utils.WithField(ctx, "phase", "details")
	log := zerolog.Ctx(ctx)

	chunks := splitChunks(links, e.config.Workers)
	results := RunPool(ctx, chunks, len(chunks), func(ctx context.Context, chunk []string) (int, error) {
		r, err := sessions.NewDetailReader(ctx, city)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := r.Close(); cerr != nil {
				zerolog.Ctx(ctx).Debug().Err(cerr).Msg("close detail session")
			}
		}()
		return readChunk(ctx, r, city, cls, chunk, agg), nil
	})

	var errs []error
	for res := range results {
		if res.Err != nil {
			log.Error().Err(res.Err).Int("chunk", res.Index).Int("links", len(res.Item)).Msg("detail chunk failed")
			errs = append(errs, res.Err)
			continue
		}
		log.Info().Int("chunk", res.Index).Int("links", len(res.Item)).Int("kept", res.Value).Msg("detail chunk done")
	}
	if len(errs) > 0 {
		return models.NewTaskError(models.ErrSessionStart, task.ID(), "open detail session", errors.Join(errs...))
	}
	return nil
}

// readChunk reads the funding source first and the full record only when relevant
func readChunk(ctx context.Context, r crawlers.DetailReader, city models.CityConfig, cls *classify.Classifier, links []string, agg *Aggregator) int {
	log := zerolog.Ctx(ctx)
	kept := 0
	for i, link := range links {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(links)-i).Msg("cancelled, remaining links skipped")
			break
		}
		if err := r.Open(ctx, link); err != nil {
			log.Error().Err(err).Str("link", link).Msg("detail page failed, skipped")
			continue
		}
		funding, err := r.FundingSource(ctx)
		if err != nil {
			log.Warn().Err(err).Str("link", link).Msg("funding source missing, skipped")
			continue
		}
		if !cls.IsRoyaltyRelated(funding) {
			log.Debug().Str("link", link).Str("funding", funding).Msg("not royalty related")
			continue
		}
		row, err := r.Fields(ctx)
		if err != nil {
			log.Error().Err(err).Str("link", link).Msg("detail fields failed, skipped")
			continue
		}
		log.Debug().Str("link", link).Int("fields", row.Len()).Msg("royalty payment kept")
		agg.Add(models.NewClassifiedRecord(row))
		kept++
	}
	return kept
}

// splitChunks splits items into min(n, len(items)) contiguous chunks of near equal size
func splitChunks(items []string, n int) [][]string {
	if len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	if n < 1 {
		n = 1
	}
	chunks := make([][]string, 0, n)
	size, rest := len(items)/n, len(items)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rest {
			end++
		}
		chunks = append(chunks, items[start:end])
		start = end
	}
	return chunks
}
