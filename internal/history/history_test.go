package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)

	id, err := store.BeginRun("requirements.txt", "Python 3.12.4", 7)
	if err != nil {
		t.Fatalf("begin run failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty run id")
	}

	steps := []Step{
		{RunID: id, Name: "ensure-installer", ExitCode: 0, Duration: 1200 * time.Millisecond},
		{RunID: id, Name: "upgrade-core", ExitCode: 0, Duration: 8 * time.Second},
		{RunID: id, Name: "install-requirements", ExitCode: 0, Duration: 90 * time.Second},
		{RunID: id, Name: "check", ExitCode: 0, Duration: 700 * time.Millisecond},
	}
	for _, st := range steps {
		if err := store.RecordStep(st); err != nil {
			t.Fatalf("record step failed: %v", err)
		}
	}

	if err := store.FinishRun(id, OutcomeSuccess); err != nil {
		t.Fatalf("finish run failed: %v", err)
	}

	runs, err := store.RecentRuns(10)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome: %s", run.Outcome)
	}
	if run.DependencyCount != 7 {
		t.Fatalf("unexpected dependency count: %d", run.DependencyCount)
	}
	if run.PythonVersion != "Python 3.12.4" {
		t.Fatalf("unexpected python version: %s", run.PythonVersion)
	}

	got, err := store.StepsForRun(id)
	if err != nil {
		t.Fatalf("steps for run failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(got))
	}
	if got[0].Name != "ensure-installer" || got[3].Name != "check" {
		t.Fatalf("steps out of order: %v", got)
	}
	if got[2].Duration != 90*time.Second {
		t.Fatalf("unexpected duration: %v", got[2].Duration)
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	store := openTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.BeginRun("requirements.txt", "", i)
		if err != nil {
			t.Fatalf("begin run failed: %v", err)
		}
		ids = append(ids, id)
		// Keep started_at strictly increasing.
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := store.RecentRuns(2)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] {
		t.Fatalf("expected newest run first")
	}
}

func TestFailedRunOutcome(t *testing.T) {
	store := openTestStore(t)

	id, err := store.BeginRun("missing.txt", "", 0)
	if err != nil {
		t.Fatalf("begin run failed: %v", err)
	}
	if err := store.RecordStep(Step{
		RunID: id, Name: "install-requirements", ExitCode: 1,
		OutputTail: "ERROR: Could not open requirements file",
	}); err != nil {
		t.Fatalf("record step failed: %v", err)
	}
	if err := store.FinishRun(id, OutcomeFailed); err != nil {
		t.Fatalf("finish run failed: %v", err)
	}

	runs, err := store.RecentRuns(1)
	if err != nil {
		t.Fatalf("recent runs failed: %v", err)
	}
	if runs[0].Outcome != OutcomeFailed {
		t.Fatalf("unexpected outcome: %s", runs[0].Outcome)
	}

	steps, err := store.StepsForRun(id)
	if err != nil {
		t.Fatalf("steps failed: %v", err)
	}
	if steps[0].ExitCode != 1 || steps[0].OutputTail == "" {
		t.Fatalf("expected failure detail preserved: %+v", steps[0])
	}
}
