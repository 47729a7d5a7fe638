package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/contrast-tiles/server/internal/jobstore"
)

func newTestJobManager(t *testing.T, exec func(ctx context.Context, store *jobstore.Store, jobID string) error) *JobManager {
	t.Helper()
	jm, err := NewJobManager(JobManagerConfig{SQLitePath: filepath.Join(t.TempDir(), "jobs.sqlite")})
	if err != nil {
		t.Fatalf("NewJobManager() error: %v", err)
	}
	jm.Executor = exec
	jm.Start()
	t.Cleanup(jm.Stop)
	return jm
}

func waitForStatus(t *testing.T, jm *JobManager, id string, want jobstore.JobStatus) *jobstore.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job := jm.Get(id)
		if job != nil && job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not reach %s, last %+v", id, want, job)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJobManagerRunsJobs(t *testing.T) {
	jm := newTestJobManager(t, func(ctx context.Context, store *jobstore.Store, jobID string) error {
		job, _ := store.GetJob(jobID)
		if len(job.Params.Tags) > 0 && job.Params.Tags[0] == "fail" {
			return errors.New("boom")
		}
		return store.UpdateJobProgress(jobID, "done", 1, 1)
	})

	ok, err := jm.Submit(jobstore.JobParams{DatasetID: "ds1", Tool: "geometry"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	job := waitForStatus(t, jm, ok.ID, jobstore.JobStatusCompleted)
	if job.StartedAt == nil || job.FinishedAt == nil || job.Progress.Done != 1 {
		t.Fatalf("expected timestamps and progress, got %+v", job)
	}

	bad, err := jm.Submit(jobstore.JobParams{DatasetID: "ds1", Tool: "geometry", Tags: []string{"fail"}})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	job = waitForStatus(t, jm, bad.ID, jobstore.JobStatusFailed)
	if job.Error != "boom" {
		t.Fatalf("expected executor error recorded, got %q", job.Error)
	}

	jobs, err := jm.List("ds1")
	if err != nil || len(jobs) != 2 {
		t.Fatalf("List() = %d jobs, %v", len(jobs), err)
	}
}

func TestJobManagerCancel(t *testing.T) {
	started := make(chan string, 1)
	jm := newTestJobManager(t, func(ctx context.Context, store *jobstore.Store, jobID string) error {
		started <- jobID
		<-ctx.Done()
		return ctx.Err()
	})

	first, _ := jm.Submit(jobstore.JobParams{DatasetID: "ds1", Tool: "geometry"})
	<-started
	second, _ := jm.Submit(jobstore.JobParams{DatasetID: "ds1", Tool: "geometry"})

	active, err := jm.ActiveJobs("ds1")
	if err != nil || len(active) != 2 {
		t.Fatalf("ActiveJobs() = %d, %v", len(active), err)
	}

	if !jm.Cancel(second.ID) {
		t.Fatal("expected queued job to be cancellable")
	}
	waitForStatus(t, jm, second.ID, jobstore.JobStatusCancelled)

	if !jm.Cancel(first.ID) {
		t.Fatal("expected running job to be cancellable")
	}
	waitForStatus(t, jm, first.ID, jobstore.JobStatusCancelled)

	if jm.Cancel(first.ID) {
		t.Fatal("expected finished job not to be cancellable")
	}

	if err := jm.Delete(first.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if jm.Get(first.ID) != nil {
		t.Fatal("expected deleted job to be gone")
	}
}
