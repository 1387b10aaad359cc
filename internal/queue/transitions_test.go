package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"shuttle/internal/queue"
	"shuttle/internal/testsupport"
)

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to queue.Status
		want     bool
	}{
		{queue.StatusDraft, queue.StatusQueued, true},
		{queue.StatusDraft, queue.StatusClaimed, false},
		{queue.StatusQueued, queue.StatusClaimed, true},
		{queue.StatusQueued, queue.StatusOnHold, true},
		{queue.StatusQueued, queue.StatusScripting, false},
		{queue.StatusClaimed, queue.StatusScripting, true},
		{queue.StatusClaimed, queue.StatusVoicing, false},
		{queue.StatusScripting, queue.StatusScriptReview, true},
		{queue.StatusScripting, queue.StatusScriptApproved, true},
		{queue.StatusScripting, queue.StatusQueued, true},
		{queue.StatusScriptReview, queue.StatusScripting, true},
		{queue.StatusScriptReview, queue.StatusVoicing, false},
		{queue.StatusScriptApproved, queue.StatusVoicing, true},
		{queue.StatusScriptApproved, queue.StatusCompleted, true},
		{queue.StatusScriptError, queue.StatusQueued, true},
		{queue.StatusScriptError, queue.StatusScripting, false},
		{queue.StatusSubtitling, queue.StatusPublishing, true},
		{queue.StatusSubtitling, queue.StatusPublishReview, false},
		{queue.StatusPublishing, queue.StatusPublished, true},
		{queue.StatusPublishReview, queue.StatusPublished, true},
		{queue.StatusPublished, queue.StatusCancelled, false},
		{queue.StatusCompleted, queue.StatusQueued, false},
		{queue.StatusCancelled, queue.StatusQueued, false},
		{queue.StatusOnHold, queue.StatusQueued, true},
		// Same-status transitions are always allowed.
		{queue.StatusPublished, queue.StatusPublished, true},
		{queue.StatusRendering, queue.StatusRendering, true},
	}

	for _, tc := range cases {
		if got := queue.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, status := range []queue.Status{queue.StatusPublished, queue.StatusCompleted, queue.StatusCancelled} {
		if allowed := queue.AllowedTransitions(status); len(allowed) != 0 {
			t.Errorf("%s should be terminal, allows %v", status, allowed)
		}
		if !status.IsTerminal() {
			t.Errorf("%s should report terminal", status)
		}
	}
}

func TestAttemptTransitionWalksFullPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.NewTask(t, store, "main", "ep-1", queue.PriorityNormal)
	path := []queue.Status{
		queue.StatusQueued,
		queue.StatusClaimed,
		queue.StatusScripting,
		queue.StatusScriptReview,
		queue.StatusScriptApproved,
		queue.StatusVoicing,
		queue.StatusVoiceApproved,
		queue.StatusRendering,
		queue.StatusRenderReview,
		queue.StatusRenderApproved,
		queue.StatusAssembling,
		queue.StatusAssemblyApproved,
		queue.StatusSubtitling,
		queue.StatusPublishing,
		queue.StatusPublishReview,
		queue.StatusPublished,
	}
	for _, status := range path {
		updated, err := store.AttemptTransition(ctx, task.ID, status)
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("expected %s, got %s", status, updated.Status)
		}
	}
}

func TestAttemptTransitionRejectsInvalid(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	_, err := store.AttemptTransition(ctx, task.ID, queue.StatusRendering)
	if err == nil {
		t.Fatal("expected invalid transition to fail")
	}
	var invalid *queue.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.TaskID != task.ID || invalid.From != queue.StatusQueued || invalid.To != queue.StatusRendering {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
	if len(invalid.Allowed) == 0 {
		t.Fatal("expected allowed transitions in error")
	}

	unchanged, err := store.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if unchanged.Status != queue.StatusQueued {
		t.Fatalf("rejected transition must not change status, got %s", unchanged.Status)
	}
}

func TestAttemptTransitionSameStatusIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	task := testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	time.Sleep(5 * time.Millisecond)
	updated, err := store.AttemptTransition(ctx, task.ID, queue.StatusQueued)
	if err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
	if updated.Status != queue.StatusQueued {
		t.Fatalf("expected queued, got %s", updated.Status)
	}
	if !updated.UpdatedAt.After(task.UpdatedAt) {
		t.Fatalf("expected same-status transition to refresh updated_at (%s vs %s)", updated.UpdatedAt, task.UpdatedAt)
	}
}

func TestTransitionToQueuedClearsLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.QueueTask(t, store, "main", "ep-1", queue.PriorityNormal)
	task, err := store.ClaimNext(ctx, "worker-1", map[string]int{"main": 2})
	if err != nil || task == nil {
		t.Fatalf("ClaimNext: task=%v err=%v", task, err)
	}

	released, err := store.AttemptTransition(ctx, task.ID, queue.StatusQueued)
	if err != nil {
		t.Fatalf("release to queued: %v", err)
	}
	if released.ClaimedBy != "" || released.ClaimedAt != nil || released.LastHeartbeat != nil {
		t.Fatalf("expected cleared lease, got %+v", released)
	}
}

func TestTransitionAllIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var requests []queue.TransitionRequest
	for i := 0; i < 3; i++ {
		task := testsupport.QueueTask(t, store, "main", "ok", queue.PriorityNormal)
		requests = append(requests, queue.TransitionRequest{ID: task.ID, To: queue.StatusOnHold})
	}

	// One task in a state that cannot go on hold poisons the whole batch.
	working := testsupport.QueueTask(t, store, "main", "busy", queue.PriorityNormal)
	for _, status := range []queue.Status{queue.StatusClaimed, queue.StatusScripting} {
		if _, err := store.AttemptTransition(ctx, working.ID, status); err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
	}
	requests = append(requests, queue.TransitionRequest{ID: working.ID, To: queue.StatusOnHold})

	err := store.TransitionAll(ctx, requests)
	if err == nil {
		t.Fatal("expected bulk transition to fail")
	}
	var bulk *queue.BulkTransitionError
	if !errors.As(err, &bulk) {
		t.Fatalf("expected BulkTransitionError, got %v", err)
	}
	if len(bulk.Failures) != 1 || bulk.Failures[0].TaskID != working.ID || bulk.Failures[0].To != queue.StatusOnHold {
		t.Fatalf("unexpected failures: %+v", bulk.Failures)
	}

	for _, req := range requests[:3] {
		task, err := store.GetByID(ctx, req.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task.Status != queue.StatusQueued {
			t.Fatalf("task %d changed despite rollback: %s", req.ID, task.Status)
		}
	}
}

func TestTransitionAllAppliesWhenAllValid(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var requests []queue.TransitionRequest
	for i := 0; i < 3; i++ {
		task := testsupport.QueueTask(t, store, "main", "ok", queue.PriorityNormal)
		requests = append(requests, queue.TransitionRequest{ID: task.ID, To: queue.StatusOnHold})
	}

	if err := store.TransitionAll(ctx, requests); err != nil {
		t.Fatalf("TransitionAll: %v", err)
	}
	for _, req := range requests {
		task, err := store.GetByID(ctx, req.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if task.Status != queue.StatusOnHold {
			t.Fatalf("task %d = %s, want on_hold", req.ID, task.Status)
		}
	}
}

func TestTransitionAllAcceptsMixedTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	holding := testsupport.QueueTask(t, store, "main", "holding", queue.PriorityNormal)
	starting := testsupport.QueueTask(t, store, "main", "starting", queue.PriorityNormal)
	if _, err := store.AttemptTransition(ctx, starting.ID, queue.StatusClaimed); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := store.TransitionAll(ctx, []queue.TransitionRequest{
		{ID: holding.ID, To: queue.StatusOnHold},
		{ID: starting.ID, To: queue.StatusScripting},
	})
	if err != nil {
		t.Fatalf("TransitionAll: %v", err)
	}

	held, err := store.GetByID(ctx, holding.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if held.Status != queue.StatusOnHold {
		t.Fatalf("holding task = %s, want on_hold", held.Status)
	}
	started, err := store.GetByID(ctx, starting.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if started.Status != queue.StatusScripting {
		t.Fatalf("starting task = %s, want scripting", started.Status)
	}
}

func TestOccupiesCapacityClassification(t *testing.T) {
	occupy := []queue.Status{
		queue.StatusClaimed,
		queue.StatusScripting,
		queue.StatusScriptReview,
		queue.StatusScriptApproved,
		queue.StatusPublishing,
		queue.StatusPublishReview,
	}
	for _, status := range occupy {
		if !status.OccupiesCapacity() {
			t.Errorf("%s should occupy capacity", status)
		}
	}

	free := []queue.Status{
		queue.StatusDraft,
		queue.StatusQueued,
		queue.StatusScriptError,
		queue.StatusOnHold,
		queue.StatusPublished,
		queue.StatusCompleted,
		queue.StatusCancelled,
	}
	for _, status := range free {
		if status.OccupiesCapacity() {
			t.Errorf("%s should not occupy capacity", status)
		}
	}
}
