package engine

import (
	"reflect"
	"testing"
	"time"
)

var (
	t1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestResolve_LastWriteWins_LaterTimestampWins(t *testing.T) {
	t.Parallel()

	local := Record{"title": "A", "updatedAt": t1}
	remote := Record{"title": "B", "updatedAt": t2}

	res, err := Resolve("tasks", local, remote, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Winner != WinnerRemote {
		t.Errorf("winner = %q, want remote", res.Winner)
	}

	if res.Resolved["title"] != "B" {
		t.Errorf("resolved title = %v, want B", res.Resolved["title"])
	}

	// Flip sides: local newer.
	res, err = Resolve("tasks", remote, local, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("Resolve flipped: %v", err)
	}

	if res.Winner != WinnerLocal || res.Resolved["title"] != "B" {
		t.Errorf("flipped: winner = %q title = %v, want local/B", res.Winner, res.Resolved["title"])
	}
}

// Equal timestamps resolve to remote. Arbitrary but fixed policy.
func TestResolve_LastWriteWins_TieGoesToRemote(t *testing.T) {
	t.Parallel()

	local := Record{"title": "local", "updatedAt": t1}
	remote := Record{"title": "remote", "updatedAt": t1}

	res, err := Resolve("tasks", local, remote, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Winner != WinnerRemote || res.Resolved["title"] != "remote" {
		t.Errorf("tie resolved to %q (%v), want remote", res.Winner, res.Resolved["title"])
	}
}

func TestResolve_LastWriteWins_Deterministic(t *testing.T) {
	t.Parallel()

	local := Record{"title": "A", "updatedAt": t2}
	remote := Record{"title": "B", "updatedAt": t1}

	first, err := Resolve("tasks", local, remote, StrategyLastWriteWins)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for range 10 {
		again, err := Resolve("tasks", local, remote, StrategyLastWriteWins)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}

		if !reflect.DeepEqual(first, again) {
			t.Fatalf("resolution not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestResolve_LastWriteWins_TimestampFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		local  any
		remote any
		want   Winner
	}{
		{"rfc3339 strings", t2.Format(time.RFC3339), t1.Format(time.RFC3339), WinnerLocal},
		{"unix millis as float", float64(t2.UnixMilli()), float64(t1.UnixMilli()), WinnerLocal},
		{"missing local timestamp", nil, t1.Format(time.RFC3339), WinnerRemote},
		{"unparseable local timestamp", "yesterday-ish", t1.Format(time.RFC3339), WinnerRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			local := Record{"side": "local"}
			if tt.local != nil {
				local["updatedAt"] = tt.local
			}

			remote := Record{"side": "remote", "updatedAt": tt.remote}

			res, err := Resolve("tasks", local, remote, StrategyLastWriteWins)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}

			if res.Winner != tt.want {
				t.Errorf("winner = %q, want %q", res.Winner, tt.want)
			}
		})
	}
}

func TestResolve_UserPriority_HigherPriorityWinsRegardlessOfTime(t *testing.T) {
	t.Parallel()

	// Local is older but carries higher priority (e.g. an admin edit).
	local := Record{"title": "admin", "priority": 10, "updatedAt": t1}
	remote := Record{"title": "viewer", "priority": 1, "updatedAt": t2}

	res, err := Resolve("tasks", local, remote, StrategyUserPriority)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Winner != WinnerLocal || res.Resolved["title"] != "admin" {
		t.Errorf("winner = %q (%v), want local/admin", res.Winner, res.Resolved["title"])
	}
}

func TestResolve_UserPriority_TieGoesToRemote(t *testing.T) {
	t.Parallel()

	local := Record{"title": "local", "priority": 5}
	remote := Record{"title": "remote", "priority": 5}

	res, err := Resolve("tasks", local, remote, StrategyUserPriority)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Winner != WinnerRemote {
		t.Errorf("priority tie resolved to %q, want remote", res.Winner)
	}
}

func TestResolve_FieldMerge_NewerSideWinsPerField(t *testing.T) {
	t.Parallel()

	local := Record{"title": "X", "status": "pending", "updatedAt": t1}
	remote := Record{"title": "X", "status": "done", "updatedAt": t2}

	res, err := Resolve("tasks", local, remote, StrategyFieldMerge)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Winner != WinnerMerged {
		t.Errorf("winner = %q, want merged", res.Winner)
	}

	if res.Resolved["title"] != "X" || res.Resolved["status"] != "done" {
		t.Errorf("merged record = %v, want title X, status done", res.Resolved)
	}

	if len(res.ConflictFields) != 2 {
		// status differs, and so do the updatedAt values themselves.
		t.Fatalf("conflict fields = %v, want [status updatedAt]", res.ConflictFields)
	}

	if res.ConflictFields[0] != "status" || res.ConflictFields[1] != "updatedAt" {
		t.Errorf("conflict fields = %v, want sorted [status updatedAt]", res.ConflictFields)
	}

	for _, f := range res.MergedFields {
		if f == "status" {
			t.Errorf("status reported as merged without conflict")
		}
	}
}

func TestResolve_FieldMerge_OneSidedFieldsCarryOver(t *testing.T) {
	t.Parallel()

	local := Record{"title": "X", "localOnly": "keep", "updatedAt": t1}
	remote := Record{"title": "X", "remoteOnly": "also", "updatedAt": t1}

	res, err := Resolve("tasks", local, remote, StrategyFieldMerge)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Resolved["localOnly"] != "keep" || res.Resolved["remoteOnly"] != "also" {
		t.Errorf("one-sided fields lost: %v", res.Resolved)
	}

	if len(res.ConflictFields) != 0 {
		t.Errorf("conflict fields = %v, want none", res.ConflictFields)
	}
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	local := Record{"title": "A", "status": "pending", "updatedAt": t1}
	remote := Record{"title": "B", "updatedAt": t2}
	localBefore := CloneRecord(local)
	remoteBefore := CloneRecord(remote)

	for _, strategy := range []Strategy{StrategyLastWriteWins, StrategyUserPriority, StrategyFieldMerge} {
		res, err := Resolve("tasks", local, remote, strategy)
		if err != nil {
			t.Fatalf("Resolve %s: %v", strategy, err)
		}

		// Mutating the resolution must not leak into the inputs either.
		res.Resolved["title"] = "tampered"

		if !reflect.DeepEqual(local, localBefore) || !reflect.DeepEqual(remote, remoteBefore) {
			t.Fatalf("strategy %s mutated its inputs", strategy)
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Resolve("tasks", nil, Record{}, StrategyLastWriteWins); err == nil {
		t.Error("nil local accepted")
	}

	if _, err := Resolve("tasks", Record{}, Record{}, Strategy("coin-flip")); err == nil {
		t.Error("unknown strategy accepted")
	}
}
