package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		want    ScheduleTime
		wantErr bool
	}{
		{"06:00", ScheduleTime{Hour: 6, Minute: 0}, false},
		{"23:59", ScheduleTime{Hour: 23, Minute: 59}, false},
		{"0:5", ScheduleTime{Hour: 0, Minute: 5}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"-1:00", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
		{"", ScheduleTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseScheduleTime(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScheduleTime(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScheduleTime_String(t *testing.T) {
	st := ScheduleTime{Hour: 6, Minute: 5}
	if got := st.String(); got != "06:05" {
		t.Errorf("String() = %q, want 06:05", got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{ScheduleTimes: []string{}}); err == nil {
		t.Error("New() accepted empty schedule times")
	}
	if _, err := New(Config{ScheduleTimes: []string{"25:00"}}); err == nil {
		t.Error("New() accepted invalid schedule time")
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	sched, err := New(Config{
		ScheduleTimes: []string{"06:00", "18:30"},
		WorkerCount:   1,
		QueueSize:     1,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 23, hour, minute, 0, 0, time.UTC)
	}

	if !sched.shouldRun(at(6, 0)) {
		t.Error("shouldRun(06:00) = false, want true")
	}
	// Same minute must not fire twice.
	if sched.shouldRun(at(6, 0)) {
		t.Error("shouldRun(06:00) fired twice within the same minute")
	}
	if sched.shouldRun(at(6, 1)) {
		t.Error("shouldRun(06:01) = true, want false")
	}
	if !sched.shouldRun(at(18, 30)) {
		t.Error("shouldRun(18:30) = false, want true")
	}
	// The dedup key includes the date, so the same time fires again tomorrow.
	tomorrow := time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC)
	if !sched.shouldRun(tomorrow) {
		t.Error("shouldRun(18:30 next day) = false, want true")
	}
}

func TestScheduler_GetNextScheduledTime(t *testing.T) {
	sched, err := New(Config{
		ScheduleTimes: []string{"00:00"},
		WorkerCount:   1,
		QueueSize:     1,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	next := sched.GetNextScheduledTime()
	if next.IsZero() {
		t.Fatal("GetNextScheduledTime() returned zero time")
	}
	if !next.After(time.Now()) {
		t.Errorf("GetNextScheduledTime() = %v, want a future time", next)
	}
	if next.Hour() != 0 || next.Minute() != 0 {
		t.Errorf("next run = %02d:%02d, want 00:00", next.Hour(), next.Minute())
	}
}

type testJob struct {
	executed chan struct{}
}

func (j *testJob) Execute(ctx context.Context) error {
	close(j.executed)
	return nil
}

func (j *testJob) UserID() string      { return "user-1" }
func (j *testJob) Description() string { return "test job" }

func TestWorkerPool_ExecutesSubmittedJob(t *testing.T) {
	pool := NewWorkerPool(1, 0, 4)
	pool.Start()
	defer pool.ShutdownWithTimeout(5 * time.Second)

	job := &testJob{executed: make(chan struct{})}
	if err := pool.Submit(job); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	select {
	case <-job.executed:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not executed")
	}
}

func TestWorkerPool_FullQueueRejects(t *testing.T) {
	// No workers started, so nothing drains the queue.
	pool := NewWorkerPool(1, 0, 1)

	first := &testJob{executed: make(chan struct{})}
	second := &testJob{executed: make(chan struct{})}

	if err := pool.Submit(first); err != nil {
		t.Fatalf("Submit() failed on empty queue: %v", err)
	}
	if err := pool.Submit(second); err == nil {
		t.Error("Submit() accepted a job on a full queue")
	}
}
