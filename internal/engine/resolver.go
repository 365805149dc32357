package engine

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Resolve computes a deterministic resolution for a local/remote conflict on
// one logical record. It is pure: inputs are never mutated, no I/O is
// performed, and identical (local, remote, strategy) triples always yield
// identical resolutions. The caller persists and broadcasts the result.
//
// Tie-breaks: when last-write-wins timestamps are exactly equal the remote
// record wins. When user-priority values are equal the remote record wins as
// well. Both are arbitrary but fixed policy, covered by tests.
func Resolve(table string, local, remote Record, strategy Strategy) (*ConflictResolution, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("engine: resolve %s: both sides required (local=%v remote=%v)", table, local != nil, remote != nil)
	}

	switch strategy {
	case StrategyLastWriteWins:
		return resolveLastWriteWins(local, remote), nil
	case StrategyUserPriority:
		return resolveUserPriority(local, remote), nil
	case StrategyFieldMerge:
		return resolveFieldMerge(local, remote), nil
	default:
		return nil, fmt.Errorf("engine: resolve %s: unknown strategy %q", table, strategy)
	}
}

func resolveLastWriteWins(local, remote Record) *ConflictResolution {
	localAt := recordTimestamp(local)
	remoteAt := recordTimestamp(remote)

	winner := WinnerRemote
	resolved := remote

	// Strictly later local timestamp wins; ties go to remote.
	if localAt.After(remoteAt) {
		winner = WinnerLocal
		resolved = local
	}

	return &ConflictResolution{
		Resolved: CloneRecord(resolved),
		Strategy: StrategyLastWriteWins,
		Winner:   winner,
		Metadata: map[string]string{
			"localUpdatedAt":  localAt.UTC().Format(time.RFC3339Nano),
			"remoteUpdatedAt": remoteAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func resolveUserPriority(local, remote Record) *ConflictResolution {
	localPri := recordPriority(local)
	remotePri := recordPriority(remote)

	winner := WinnerRemote
	resolved := remote

	if localPri > remotePri {
		winner = WinnerLocal
		resolved = local
	}

	return &ConflictResolution{
		Resolved: CloneRecord(resolved),
		Strategy: StrategyUserPriority,
		Winner:   winner,
		Metadata: map[string]string{
			"localPriority":  strconv.FormatFloat(localPri, 'f', -1, 64),
			"remotePriority": strconv.FormatFloat(remotePri, 'f', -1, 64),
		},
	}
}

// resolveFieldMerge merges two records field by field. Equal fields are kept
// as-is; differing fields take the value from whichever side has the more
// recent overall timestamp. Fields present on only one side are carried over
// without conflict. Field iteration is sorted so the report is stable.
func resolveFieldMerge(local, remote Record) *ConflictResolution {
	remoteNewer := !recordTimestamp(local).After(recordTimestamp(remote))

	fields := make(map[string]struct{}, len(local)+len(remote))
	for f := range local {
		fields[f] = struct{}{}
	}

	for f := range remote {
		fields[f] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}

	sort.Strings(names)

	merged := make(Record, len(names))

	var conflictFields, mergedFields []string

	for _, f := range names {
		lv, lok := local[f]
		rv, rok := remote[f]

		switch {
		case lok && rok && valuesEqual(lv, rv):
			merged[f] = lv
			mergedFields = append(mergedFields, f)
		case lok && rok:
			if remoteNewer {
				merged[f] = rv
			} else {
				merged[f] = lv
			}

			conflictFields = append(conflictFields, f)
		case lok:
			merged[f] = lv
			mergedFields = append(mergedFields, f)
		default:
			merged[f] = rv
			mergedFields = append(mergedFields, f)
		}
	}

	winnerSide := WinnerLocal
	if remoteNewer {
		winnerSide = WinnerRemote
	}

	return &ConflictResolution{
		Resolved:       merged,
		Strategy:       StrategyFieldMerge,
		Winner:         WinnerMerged,
		ConflictFields: conflictFields,
		MergedFields:   mergedFields,
		Metadata: map[string]string{
			"newerSide": string(winnerSide),
		},
	}
}

// recordTimestamp extracts the updatedAt field of a record. Accepts
// time.Time, RFC3339 strings, and JSON numbers (Unix milliseconds). Missing
// or unparseable values yield the zero time, which orders before everything.
func recordTimestamp(rec Record) time.Time {
	v, ok := rec["updatedAt"]
	if !ok {
		return time.Time{}
	}

	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}

		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}

		return time.Time{}
	case float64:
		return time.UnixMilli(int64(t))
	case int64:
		return time.UnixMilli(t)
	case int:
		return time.UnixMilli(int64(t))
	default:
		return time.Time{}
	}
}

// recordPriority extracts the numeric priority field, defaulting to 0.
func recordPriority(rec Record) float64 {
	if f, ok := toFloat(rec["priority"]); ok {
		return f
	}

	return 0
}
