package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/normalize"
	"github.com/maltedev/material-scraper/internal/ratelimit"
	"github.com/maltedev/material-scraper/internal/supplier"
)

// task is one (supplier, category) pair.
type task struct {
	def       supplier.Definition
	category  models.Category
	extractor supplier.Extractor
	limiter   ratelimit.RateLimiter
}

// taskOutcome holds the records a task accepted before deduplication. The
// summary success count is filled in by aggregate.
type taskOutcome struct {
	records []models.ProductRecord
	summary models.Summary
}

func cancelledOutcome(t task) taskOutcome {
	kind := ErrorKindCancelled
	return taskOutcome{summary: models.Summary{
		Supplier:  t.def.DisplayName(),
		Category:  t.category,
		ErrorKind: &kind,
	}}
}

// runTask walks the listing pages of one pair. Fetches run detached from
// ctx so an in-flight request is never torn down by a stop signal; ctx only
// decides whether another page is requested.
func (o *Orchestrator) runTask(ctx context.Context, t task, opts Options) taskOutcome {
	logger := o.logger.With("supplier", t.def.ID, "category", t.category)
	src := normalize.Source{
		Name:     t.def.DisplayName(),
		BaseURL:  t.def.BaseURL,
		Currency: t.def.Currency,
	}

	out := taskOutcome{summary: models.Summary{Supplier: src.Name, Category: t.category}}
	fetchCtx := context.WithoutCancel(ctx)
	pulled := 0

	for page := 1; page <= opts.MaxPages; page++ {
		if page > 1 {
			if !t.def.Paginated() || ctx.Err() != nil {
				break
			}
		}

		pageURL, err := t.def.PageURL(t.category, page)
		if err != nil {
			out.fail(ErrorKindUnconfiguredCategory)
			logger.Error("cannot build listing url", "page", page, "error", err)
			break
		}

		resp, err := o.fetcher.Fetch(fetchCtx, fetch.Request{
			URL:        pageURL,
			Supplier:   t.def.ID,
			Limiter:    t.limiter,
			MaxRetries: opts.MaxRetries,
			Timeout:    opts.Timeout,
		})
		if err != nil {
			kind := ErrorKindExhausted
			if k, ok := fetch.KindOf(err); ok {
				kind = string(k)
			}
			out.fail(kind)
			logger.Error("fetch failed, skipping pair", "url", pageURL, "page", page, "kind", kind, "error", err)
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			out.fail(ErrorKindParse)
			logger.Error("failed to parse listing page", "url", pageURL, "error", err)
			break
		}

		found := 0
		for candidate := range t.extractor.Extract(t.category, doc) {
			found++
			pulled++
			o.accept(&out, candidate, src, t, logger)
			if opts.MaxProductsPerCategory > 0 && pulled >= opts.MaxProductsPerCategory {
				break
			}
		}

		logger.Debug("listing page processed", "url", pageURL, "page", page, "candidates", found)

		if found == 0 {
			if page == 1 {
				logger.Warn("no product containers found", "url", pageURL)
			}
			break
		}
		if opts.MaxProductsPerCategory > 0 && pulled >= opts.MaxProductsPerCategory {
			break
		}
	}

	return out
}

// accept maps, normalizes and validates one candidate. Every rejection is a
// logged skip.
func (o *Orchestrator) accept(out *taskOutcome, c models.RawCandidate, src normalize.Source, t task, logger *slog.Logger) {
	cat, err := o.mapper.Map(t.def.ID, c.CategoryLabel)
	if err != nil {
		out.summary.SkippedCount++
		logger.Warn("candidate skipped: unmapped category", "label", c.CategoryLabel, "url", c.URL)
		return
	}

	record, err := o.normalizer.Normalize(c, src, cat)
	switch {
	case errors.Is(err, normalize.ErrPriceUnparsed):
		out.summary.PriceUnparsedCount++
		logger.Warn("price unparsed, defaulting to zero", "price_text", c.PriceText, "url", record.ProductURL)
	case err != nil:
		out.summary.SkippedCount++
		logger.Warn("candidate skipped", "url", c.URL, "error", err)
		return
	}

	if err := record.Validate(); err != nil {
		out.summary.SkippedCount++
		logger.Warn("candidate skipped: invalid record", "url", record.ProductURL, "error", err)
		return
	}

	out.records = append(out.records, *record)
}

func (out *taskOutcome) fail(kind string) {
	out.summary.ErrorKind = &kind
}
