package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/events"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/sandbox"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/validator"
)

// fakeBackend is a scriptable in-process backend. Each execution calls
// script with its request; the returned result or error becomes the
// outcome. A nil script echoes the code as stdout.
type fakeBackend struct {
	script func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error)
	active atomic.Int64
	runs   atomic.Int64
}

func (b *fakeBackend) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	b.active.Add(1)
	defer b.active.Add(-1)
	b.runs.Add(1)

	if b.script != nil {
		return b.script(ctx, req)
	}
	return &sandbox.Result{
		ID:       "fake",
		Stdout:   req.Code,
		ExitCode: 0,
		Duration: time.Millisecond,
	}, nil
}

func (b *fakeBackend) Healthy(context.Context) bool { return true }
func (b *fakeBackend) ActiveCount() int64           { return b.active.Load() }
func (b *fakeBackend) Close() error                 { return nil }

// recordingPublisher captures events in publish order.
type recordingPublisher struct {
	mu   sync.Mutex
	evts []events.Event
}

func (p *recordingPublisher) Publish(roomID string, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evts = append(p.evts, ev)
}

func (p *recordingPublisher) byType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.evts {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxConcurrentExecutions: 3,
		MaxQueueSize:            10,
		ExecutionTimeout:        30 * time.Second,
		CleanupInterval:         time.Minute,
		RetentionWindow:         24 * time.Hour,
	}
}

func testLanguages() map[string]config.LanguageConfig {
	return map[string]config.LanguageConfig{
		"python":     config.DefaultLanguage(),
		"javascript": config.DefaultLanguage(),
	}
}

func newTestEngine(t *testing.T, backend sandbox.Backend, pub events.Publisher) *Engine {
	t.Helper()
	return newTestEngineWith(t, testEngineConfig(), backend, pub)
}

func newTestEngineWith(t *testing.T, cfg config.EngineConfig, backend sandbox.Backend, pub events.Publisher) *Engine {
	t.Helper()
	langs := testLanguages()
	store := results.NewStore(24*time.Hour, time.Hour)
	t.Cleanup(store.Close)
	return New(
		cfg,
		langs,
		validator.New(langs),
		runtime.NewRegistry(),
		backend,
		store,
		Options{Publisher: pub},
	)
}

func user(id string) User {
	return User{ID: id, DisplayName: "User " + id}
}

func waitResult(t *testing.T, sub *Submission) *results.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := sub.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	return res
}

func TestSubmitRunsToCompletion(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEngine(t, &fakeBackend{}, pub)

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "python", `print("hi")`, "")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	res := waitResult(t, sub)
	if res.Status != results.StatusCompleted {
		t.Errorf("status = %s, want completed", res.Status)
	}
	if res.Stdout != `print("hi")` {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.EndedAt == nil || res.StartedAt == nil {
		t.Error("timestamps not set on terminal result")
	}

	// Result is retained and queryable afterwards.
	if got := e.Result(res.ID); got == nil {
		t.Error("terminal result not in store")
	}

	// Full lifecycle was broadcast.
	for _, typ := range []events.Type{events.TypeQueued, events.TypeStarted, events.TypeCompleted} {
		if len(pub.byType(typ)) != 1 {
			t.Errorf("expected exactly one %s event", typ)
		}
	}
}

// Two users in the same room run concurrently and each gets their own
// result, even with identical code.
func TestConcurrentUsersIndependentResults(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 4)
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			started <- req.Stdin
			<-release
			return &sandbox.Result{Stdout: "out for " + req.Stdin, ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	subA, err := e.Submit(context.Background(), "room-1", user("alice"), "python", "print(1)", "alice")
	if err != nil {
		t.Fatalf("Submit(alice): %v", err)
	}
	subB, err := e.Submit(context.Background(), "room-1", user("bob"), "python", "print(1)", "bob")
	if err != nil {
		t.Fatalf("Submit(bob): %v", err)
	}

	// Both run at the same time: capacity is 3.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("executions did not start concurrently")
		}
	}
	close(release)

	resA := waitResult(t, subA)
	resB := waitResult(t, subB)
	if resA.Stdout != "out for alice" {
		t.Errorf("alice stdout = %q", resA.Stdout)
	}
	if resB.Stdout != "out for bob" {
		t.Errorf("bob stdout = %q", resB.Stdout)
	}
	if resA.ID == resB.ID {
		t.Error("executions share an ID")
	}
}

func TestUserBusyRejected(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "print(1)", "")
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	if _, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "print(2)", ""); !errors.Is(err, ErrUserBusy) {
		t.Errorf("second Submit error = %v, want ErrUserBusy", err)
	}

	// Same user in a different room is unaffected.
	if _, err := e.Submit(context.Background(), "room-2", user("u1"), "python", "print(3)", ""); err != nil {
		t.Errorf("other-room Submit error = %v", err)
	}

	close(release)
	res := waitResult(t, sub)

	// Once terminal, the user may submit again.
	if res.Status != results.StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	if _, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "print(4)", ""); err != nil {
		t.Errorf("resubmit after completion error = %v", err)
	}
}

func TestQueueFullRejected(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	defer close(release)
	e := newTestEngine(t, backend, nil)

	// 3 go active, 10 queue up.
	for i := 0; i < 13; i++ {
		uid := fmt.Sprintf("u%d", i)
		if _, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", ""); err != nil {
			t.Fatalf("Submit(%s): %v", uid, err)
		}
	}

	_, err := e.Submit(context.Background(), "room-1", user("overflow"), "python", "print(1)", "")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit error = %v, want ErrQueueFull", err)
	}

	// Rejection left the queue untouched.
	status := e.RoomStatus("room-1")
	if status.QueueDepth != 10 || status.ActiveCount != 3 {
		t.Errorf("queue=%d active=%d, want 10/3", status.QueueDepth, status.ActiveCount)
	}
	if !IsAdmissionError(err) {
		t.Error("queue-full should classify as admission error")
	}
}

// With a single slot, dispatch is fully serialized and start order must
// equal admission order.
func TestFIFOStartOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			mu.Lock()
			order = append(order, req.Stdin)
			mu.Unlock()
			<-gate
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	pub := &recordingPublisher{}
	cfg := testEngineConfig()
	cfg.MaxConcurrentExecutions = 1
	e := newTestEngineWith(t, cfg, backend, pub)

	var subs []*Submission
	for i := 0; i < 8; i++ {
		uid := fmt.Sprintf("u%d", i)
		sub, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", uid)
		if err != nil {
			t.Fatalf("Submit(%s): %v", uid, err)
		}
		subs = append(subs, sub)
	}

	close(gate)
	for _, sub := range subs {
		waitResult(t, sub)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 8 {
		t.Fatalf("ran %d executions, want 8", len(order))
	}
	for i, uid := range order {
		if want := fmt.Sprintf("u%d", i); uid != want {
			t.Fatalf("start order %v, want admission order", order)
		}
	}

	started := pub.byType(events.TypeStarted)
	if len(started) != 8 {
		t.Fatalf("started events = %d, want 8", len(started))
	}
	for i, ev := range started {
		if want := fmt.Sprintf("u%d", i); ev.UserID != want {
			t.Fatalf("started event %d for %s, want %s", i, ev.UserID, want)
		}
	}
}

func TestTimeoutProducesTerminalResult(t *testing.T) {
	pub := &recordingPublisher{}
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			// Partial output survives the kill.
			return &sandbox.Result{Stdout: "partial\n", ExitCode: -1}, sandbox.ErrTimeout
		},
	}
	e := newTestEngine(t, backend, pub)

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "while True: pass", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res := waitResult(t, sub)
	if res.Status != results.StatusTimeout {
		t.Errorf("status = %s, want timeout", res.Status)
	}
	if res.Stdout != "partial\n" {
		t.Errorf("partial stdout lost: %q", res.Stdout)
	}
	if res.Error == "" {
		t.Error("timeout result has no error message")
	}

	failedEvts := pub.byType(events.TypeFailed)
	if len(failedEvts) != 1 || failedEvts[0].Status != string(results.StatusTimeout) {
		t.Errorf("failed events = %+v", failedEvts)
	}

	// The slot was reclaimed.
	if status := e.RoomStatus("room-1"); status.ActiveCount != 0 {
		t.Errorf("active = %d after timeout", status.ActiveCount)
	}
}

func TestNonZeroExitIsFailed(t *testing.T) {
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{Stderr: "Traceback...\n", ExitCode: 1}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "raise Exception()", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res := waitResult(t, sub)
	if res.Status != results.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.ExitCode != 1 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if res.Stderr == "" {
		t.Error("stderr lost on failure")
	}
}

func TestValidationRejectionHasNoSideEffects(t *testing.T) {
	backend := &fakeBackend{}
	e := newTestEngine(t, backend, nil)

	_, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "import os\nos.system('ls')", "")
	if !validator.IsValidationError(err) {
		t.Fatalf("Submit error = %v, want validation error", err)
	}

	// Nothing ran, nothing queued, user not marked busy.
	if backend.runs.Load() != 0 {
		t.Error("rejected submission reached the backend")
	}
	status := e.RoomStatus("room-1")
	if status.QueueDepth != 0 || status.ActiveCount != 0 {
		t.Errorf("room state after rejection: %+v", status)
	}
	if _, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "print(1)", ""); err != nil {
		t.Errorf("user locked out after rejected submission: %v", err)
	}
}

func TestCancelQueuedOnly(t *testing.T) {
	pub := &recordingPublisher{}
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	defer close(release)
	e := newTestEngine(t, backend, pub)

	// Fill the active set so the fourth submission stays queued.
	for i := 0; i < 3; i++ {
		uid := fmt.Sprintf("runner%d", i)
		if _, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", ""); err != nil {
			t.Fatalf("Submit(%s): %v", uid, err)
		}
	}
	queued, err := e.Submit(context.Background(), "room-1", user("waiter"), "python", "print(1)", "")
	if err != nil {
		t.Fatalf("Submit(waiter): %v", err)
	}

	// Executing requests cannot be cancelled.
	if err := e.Cancel("room-1", "runner0"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("Cancel(executing) = %v, want ErrNotCancellable", err)
	}

	// Queued request can.
	if err := e.Cancel("room-1", "waiter"); err != nil {
		t.Fatalf("Cancel(waiter): %v", err)
	}
	res := waitResult(t, queued)
	if res.Status != results.StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
	if len(pub.byType(events.TypeCancelled)) != 1 {
		t.Error("no cancelled event broadcast")
	}

	// Unknown user and unknown room report not found.
	if err := e.Cancel("room-1", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(nobody) = %v", err)
	}
	if err := e.Cancel("no-room", "waiter"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(no-room) = %v", err)
	}
}

// All room subscribers observe the full lifecycle, not only the
// submitter.
func TestBroadcastReachesAllViewers(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	e := newTestEngine(t, &fakeBackend{}, bus)

	type viewer struct {
		ch     <-chan events.Event
		cancel func()
	}
	var viewers []viewer
	for i := 0; i < 3; i++ {
		ch, cancel := bus.Subscribe("room-1")
		viewers = append(viewers, viewer{ch, cancel})
	}
	defer func() {
		for _, v := range viewers {
			v.cancel()
		}
	}()

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "print(1)", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitResult(t, sub)

	for i, v := range viewers {
		seen := map[events.Type]bool{}
		timeout := time.After(2 * time.Second)
		for len(seen) < 3 {
			select {
			case ev := <-v.ch:
				seen[ev.Type] = true
			case <-timeout:
				t.Fatalf("viewer %d saw %v, want queued+started+completed", i, seen)
			}
		}
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	defer close(release)
	e := newTestEngine(t, backend, nil)

	// Saturate room-1 completely.
	for i := 0; i < 13; i++ {
		uid := fmt.Sprintf("u%d", i)
		if _, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", ""); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	// room-2 admits immediately.
	if _, err := e.Submit(context.Background(), "room-2", user("u0"), "python", "print(1)", ""); err != nil {
		t.Errorf("saturated room leaked into another room: %v", err)
	}
}

func TestStatistics(t *testing.T) {
	fail := false
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			if fail {
				return &sandbox.Result{ExitCode: 1}, nil
			}
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	sub, _ := e.Submit(context.Background(), "room-1", user("u1"), "python", "print(1)", "")
	waitResult(t, sub)
	fail = true
	sub, _ = e.Submit(context.Background(), "room-1", user("u1"), "python", "print(1)", "")
	waitResult(t, sub)

	stats := e.Statistics()
	if stats.TotalAccepted != 2 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", stats.SuccessRate)
	}
	if stats.Active != 0 || stats.Queued != 0 {
		t.Errorf("in-flight counts = %d/%d, want 0/0", stats.Active, stats.Queued)
	}
}

func TestRoomStatusSnapshot(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	defer close(release)
	e := newTestEngine(t, backend, nil)

	for i := 0; i < 5; i++ {
		uid := fmt.Sprintf("u%d", i)
		if _, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", ""); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	status := e.RoomStatus("room-1")
	if status.ActiveCount != 3 || status.QueueDepth != 2 {
		t.Fatalf("active=%d queued=%d, want 3/2", status.ActiveCount, status.QueueDepth)
	}
	if status.MaxConcurrent != 3 || status.MaxQueueSize != 10 {
		t.Errorf("limits not reported: %+v", status)
	}
	for i, q := range status.Queued {
		if q.Position != i+1 {
			t.Errorf("queued[%d].Position = %d", i, q.Position)
		}
		if q.EstimatedWaitMS <= 0 {
			t.Errorf("queued[%d] has no wait estimate", i)
		}
	}

	// Unknown room yields an empty snapshot.
	empty := e.RoomStatus("nowhere")
	if empty.ActiveCount != 0 || empty.QueueDepth != 0 {
		t.Errorf("unknown room snapshot = %+v", empty)
	}
}

func TestCloseCancelsQueuedAndRejectsNew(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	var running, queued []*Submission
	for i := 0; i < 5; i++ {
		uid := fmt.Sprintf("u%d", i)
		sub, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", "")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if i < 3 {
			running = append(running, sub)
		} else {
			queued = append(queued, sub)
		}
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, sub := range queued {
		res := waitResult(t, sub)
		if res.Status != results.StatusCancelled {
			t.Errorf("queued status after close = %s", res.Status)
		}
	}
	for _, sub := range running {
		res := waitResult(t, sub)
		if res.Status != results.StatusCompleted {
			t.Errorf("running status after close = %s", res.Status)
		}
	}

	if _, err := e.Submit(context.Background(), "room-1", user("late"), "python", "print(1)", ""); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Submit after close = %v, want ErrEngineClosed", err)
	}
}

func TestLanguageAliasResolved(t *testing.T) {
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{Stdout: req.Language, ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "py", "print(1)", "")
	if err != nil {
		t.Fatalf("Submit(py): %v", err)
	}
	res := waitResult(t, sub)
	if res.Language != "python" || res.Stdout != "python" {
		t.Errorf("alias not canonicalized: lang=%s stdout=%s", res.Language, res.Stdout)
	}
}

// Cancelling a middle entry removes only that entry; survivors shift
// position but keep their relative order.
func TestCancelShiftsQueuePositions(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			<-release
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	defer close(release)
	cfg := testEngineConfig()
	cfg.MaxConcurrentExecutions = 1
	e := newTestEngineWith(t, cfg, backend, nil)

	if _, err := e.Submit(context.Background(), "room-1", user("runner"), "python", "print(1)", ""); err != nil {
		t.Fatalf("Submit(runner): %v", err)
	}
	for _, uid := range []string{"q1", "q2", "q3", "q4"} {
		if _, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", ""); err != nil {
			t.Fatalf("Submit(%s): %v", uid, err)
		}
	}

	if err := e.Cancel("room-1", "q2"); err != nil {
		t.Fatalf("Cancel(q2): %v", err)
	}

	status := e.RoomStatus("room-1")
	want := []string{"q1", "q3", "q4"}
	if len(status.Queued) != len(want) {
		t.Fatalf("queue = %+v, want %v", status.Queued, want)
	}
	for i, entry := range status.Queued {
		if entry.UserID != want[i] {
			t.Errorf("queue[%d] = %s, want %s", i, entry.UserID, want[i])
		}
		if entry.Position != i+1 {
			t.Errorf("queue[%d].Position = %d, want %d", i, entry.Position, i+1)
		}
	}
}

// The one-in-flight-per-user rule must hold even while the room's
// state is being released and recreated by concurrent completions.
func TestUserBusyHeldAcrossRoomRelease(t *testing.T) {
	var mu sync.Mutex
	inflight := map[string]int{}
	overlaps := 0
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			mu.Lock()
			inflight[req.Stdin]++
			if inflight[req.Stdin] > 1 {
				overlaps++
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inflight[req.Stdin]--
			mu.Unlock()
			return &sandbox.Result{ExitCode: 0}, nil
		},
	}
	e := newTestEngine(t, backend, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	submitLoop := func(uid string) {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			sub, err := e.Submit(context.Background(), "room-1", user(uid), "python", "print(1)", uid)
			if err != nil {
				continue // busy is expected under contention
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			sub.Wait(ctx)
			cancel()
		}
	}

	// The churn user repeatedly empties the room, forcing its state to
	// be released and recreated while the shared user submits from two
	// goroutines at once.
	wg.Add(1)
	go submitLoop("churn")
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go submitLoop("shared")
	}

	time.Sleep(500 * time.Millisecond)
	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if overlaps != 0 {
		t.Fatalf("same user executed concurrently %d times", overlaps)
	}
}

// A run killed at a resource ceiling surfaces as failed with the
// partial output preserved.
func TestOOMKillIsFailed(t *testing.T) {
	backend := &fakeBackend{
		script: func(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
			return &sandbox.Result{Stdout: "allocating\n", ExitCode: 137},
				&sandbox.ExecutionError{Op: "run", Err: sandbox.ErrOOM}
		},
	}
	e := newTestEngine(t, backend, nil)

	sub, err := e.Submit(context.Background(), "room-1", user("u1"), "python", "x = 'a' * 10**10", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res := waitResult(t, sub)
	if res.Status != results.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Error, "out of memory") {
		t.Errorf("error = %q, want out of memory", res.Error)
	}
	if res.Stdout != "allocating\n" {
		t.Errorf("partial stdout lost: %q", res.Stdout)
	}
}
