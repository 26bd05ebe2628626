package rook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	sentrygo "github.com/getsentry/sentry-go"

	"livmore-rook-sync/internal/metrics"
	"livmore-rook-sync/internal/normalize"
	"livmore-rook-sync/internal/sentry"
)

const (
	physicalSummaryPath = "/v2/processed_data/physical_health/summary"
	sleepSummaryPath    = "/v2/processed_data/sleep_health/summary"
	sleepSummaryAltPath = "/api/v1/processed_data/sleep_health/summary"
)

// ErrAllCallsFailed is returned by FetchDay when every summary call failed
// with an upstream error
var ErrAllCallsFailed = errors.New("all rook summary calls failed")

// PhysicalSummary fetches the physical summary of one day
func (c *Client) PhysicalSummary(ctx context.Context, rookUserID, date string) (map[string]any, error) {
	return c.getSummary(ctx, metrics.OpPhysicalSummary, physicalSummaryPath, rookUserID, date)
}

// SleepSummary fetches the sleep summary of one day
func (c *Client) SleepSummary(ctx context.Context, rookUserID, date string) (map[string]any, error) {
	return c.getSummary(ctx, metrics.OpSleepSummary, sleepSummaryPath, rookUserID, date)
}

// SleepSummaryAlt fetches the sleep summary from the older API version,
// which some vendors still populate
func (c *Client) SleepSummaryAlt(ctx context.Context, rookUserID, date string) (map[string]any, error) {
	return c.getSummary(ctx, metrics.OpSleepSummaryAlt, sleepSummaryAltPath, rookUserID, date)
}

func (c *Client) getSummary(ctx context.Context, op, path, rookUserID, date string) (map[string]any, error) {
	params := url.Values{
		"user_id": {rookUserID},
		"date":    {date},
	}

	body, err := c.doRequest(ctx, op, path, params)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get %s: %w", op, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", op, err)
	}
	if len(payload) == 0 {
		return nil, ErrNoData
	}
	return payload, nil
}

// Day is the merged result of the per-day summary calls
type Day struct {
	Partial normalize.Partial
	Calls   int
	NoData  int
	Errors  []error
}

type summaryCall struct {
	op    string
	kind  normalize.Kind
	fetch func(context.Context, string, string) (map[string]any, error)
}

// FetchDay calls the physical, sleep and alternate sleep endpoints
// concurrently and merges whatever they return, physical first.
//
// A failed call counts as no data from that call. FetchDay returns
// ErrNoData when no call produced activity fields, and ErrAllCallsFailed
// when every call failed.
func (c *Client) FetchDay(ctx context.Context, rookUserID, date string) (*Day, error) {
	calls := []summaryCall{
		{metrics.OpPhysicalSummary, normalize.KindPhysical, c.PhysicalSummary},
		{metrics.OpSleepSummary, normalize.KindSleep, c.SleepSummary},
		{metrics.OpSleepSummaryAlt, normalize.KindSleep, c.SleepSummaryAlt},
	}

	partials := make([]*normalize.Partial, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		go func() {
			defer wg.Done()

			payload, err := call.fetch(ctx, rookUserID, date)
			if err != nil {
				errs[i] = err
				return
			}

			p, _, err := normalize.Normalize(payload, call.kind, time.Now())
			if err != nil {
				if errors.Is(err, normalize.ErrNoSummaryFound) {
					errs[i] = ErrNoData
					return
				}
				errs[i] = err
				return
			}
			partials[i] = &p
		}()
	}
	wg.Wait()

	day := &Day{Calls: len(calls)}
	var merged []normalize.Partial
	for i, err := range errs {
		switch {
		case errors.Is(err, ErrNoData):
			day.NoData++
		case err != nil:
			day.Errors = append(day.Errors, err)
			c.reportCallError(calls[i].op, rookUserID, date, err)
		case partials[i] != nil:
			merged = append(merged, *partials[i])
		}
	}

	day.Partial = normalize.Merge(merged...)
	day.Partial.Date = date

	if !day.Partial.HasActivity() {
		if len(day.Errors) == len(calls) {
			return day, fmt.Errorf("%w: %w", ErrAllCallsFailed, errors.Join(day.Errors...))
		}
		return day, ErrNoData
	}
	return day, nil
}

// reportCallError logs a failed summary call. Rejected credentials break
// every call, so they are also reported to Sentry.
func (c *Client) reportCallError(op, rookUserID, date string, err error) {
	switch {
	case IsUnauthorized(err):
		c.logger.Error("Rook rejected client credentials", "operation", op, "error", err)
		sentry.CaptureMessage("Rook rejected client credentials", sentrygo.LevelError, map[string]any{
			"operation": op,
		}, c.logger)
	case IsTooManyRequests(err):
		c.logger.Warn("Rook summary call throttled", "operation", op, "rook_user_id", rookUserID, "date", date, "error", err)
	default:
		c.logger.Warn("Rook summary call failed", "operation", op, "rook_user_id", rookUserID, "date", date, "error", err)
	}
}
