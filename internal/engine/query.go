package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// HybridQuery orchestrates the local and remote accessors per query mode and
// emits a sync_complete event tagged with whichever source actually served
// the rows. Identical concurrent queries are coalesced through singleflight
// so a burst of consumers mounting the same view triggers one execution.
type HybridQuery struct {
	local    Accessor
	remote   Accessor
	registry *Registry
	logger   *slog.Logger
	group    singleflight.Group
}

// NewHybridQuery creates a HybridQuery over the two accessors.
func NewHybridQuery(local, remote Accessor, registry *Registry, logger *slog.Logger) *HybridQuery {
	if logger == nil {
		logger = slog.Default()
	}

	return &HybridQuery{
		local:    local,
		remote:   remote,
		registry: registry,
		logger:   logger,
	}
}

// queryOutcome pairs rows with the source that produced them, for
// singleflight sharing.
type queryOutcome struct {
	rows   []Record
	source EventSource
}

// Query executes a read per the given mode:
//
//   - local-first: local store, falling back to the remote on local failure.
//   - hybrid: local store, falling back to the remote on local failure or
//     an empty local result.
//   - server-first: the remote is authoritative and always used.
//
// When both accessors fail, the two causes are combined into one aggregated
// error so callers never inspect two separate failures.
func (h *HybridQuery) Query(ctx context.Context, table string, params map[string]any, mode QueryMode) ([]Record, error) {
	key := queryKey(table, params, mode)

	v, err, _ := h.group.Do(key, func() (any, error) {
		return h.queryOnce(ctx, table, params, mode)
	})
	if err != nil {
		return nil, err
	}

	out := v.(*queryOutcome)

	h.registry.Publish(SyncEvent{
		Type:   EventSyncComplete,
		Table:  table,
		Source: out.source,
	})

	return out.rows, nil
}

func (h *HybridQuery) queryOnce(ctx context.Context, table string, params map[string]any, mode QueryMode) (*queryOutcome, error) {
	switch mode {
	case ModeServerFirst:
		rows, err := h.remote.Query(ctx, table, params)
		if err != nil {
			return nil, fmt.Errorf("engine: server-first query on %s: %w", table, err)
		}

		return &queryOutcome{rows: rows, source: SourceRemote}, nil

	case ModeLocalFirst, ModeHybrid:
		rows, localErr := h.local.Query(ctx, table, params)
		if localErr == nil {
			emptyFallback := mode == ModeHybrid && len(rows) == 0
			if !emptyFallback {
				return &queryOutcome{rows: rows, source: SourceLocal}, nil
			}

			h.logger.Debug("empty local result, falling back to remote",
				slog.String("table", table),
			)
		} else {
			h.logger.Warn("local query failed, falling back to remote",
				slog.String("table", table),
				slog.String("error", localErr.Error()),
			)
		}

		remoteRows, remoteErr := h.remote.Query(ctx, table, params)
		if remoteErr != nil {
			if localErr != nil {
				combined := multierr.Append(
					fmt.Errorf("local: %w", localErr),
					fmt.Errorf("remote: %w", remoteErr),
				)

				return nil, fmt.Errorf("engine: both query paths failed on %s: %w", table, combined)
			}

			// Local succeeded but was empty; the remote failure is not
			// fatal in hybrid mode, so serve the (empty) local rows.
			return &queryOutcome{rows: rows, source: SourceLocal}, nil
		}

		return &queryOutcome{rows: remoteRows, source: SourceRemote}, nil

	default:
		return nil, fmt.Errorf("engine: unknown query mode %q", mode)
	}
}

// queryKey builds a canonical singleflight key from (table, params, mode).
// Params are serialized in sorted field order so equivalent maps coalesce.
func queryKey(table string, params map[string]any, mode QueryMode) string {
	fields := make([]string, 0, len(params))
	for f := range params {
		fields = append(fields, f)
	}

	sort.Strings(fields)

	key := string(mode) + "|" + table
	for _, f := range fields {
		key += fmt.Sprintf("|%s=%v", f, params[f])
	}

	return key
}
