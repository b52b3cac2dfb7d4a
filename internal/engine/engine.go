package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/events"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/monitor"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/sandbox"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/validator"
)

// watchdogGrace is how long the engine waits past the sandbox deadline
// before declaring a run timed out on its own. The sandbox enforces the
// wall clock itself; this backstop guarantees a terminal status even if
// the backend wedges.
const watchdogGrace = 5 * time.Second

// Auditor receives terminal results for durable storage. Optional.
type Auditor interface {
	Record(*results.Result)
}

// Engine is the admission and queue coordinator. Each room gets an
// independent FIFO queue and active set; users are limited to one
// non-terminal execution per room at a time.
type Engine struct {
	cfg       config.EngineConfig
	languages map[string]config.LanguageConfig
	validator *validator.Validator
	runtimes  *runtime.Registry
	backend   sandbox.Backend
	store     *results.Store
	publisher events.Publisher
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
	audit     Auditor

	roomsMu sync.Mutex
	rooms   map[string]*roomState

	statsMu       sync.Mutex
	totalAccepted int64
	byStatus      map[results.Status]int64
	totalDurMS    int64
	timedRuns     int64

	closedMu sync.Mutex
	closed   bool
	wg       sync.WaitGroup
}

// Options carries the optional collaborators.
type Options struct {
	Publisher events.Publisher
	Metrics   *monitor.Metrics
	Audit     Auditor
}

// New builds an engine. Store and backend are required; everything in
// opts may be nil.
func New(
	cfg config.EngineConfig,
	languages map[string]config.LanguageConfig,
	v *validator.Validator,
	runtimes *runtime.Registry,
	backend sandbox.Backend,
	store *results.Store,
	opts Options,
) *Engine {
	return &Engine{
		cfg:       cfg,
		languages: languages,
		validator: v,
		runtimes:  runtimes,
		backend:   backend,
		store:     store,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		tracer:    monitor.NewTracer(),
		audit:     opts.Audit,
		rooms:     make(map[string]*roomState),
		byStatus:  make(map[results.Status]int64),
	}
}

// Submit validates and admits one execution request. Admission checks
// and enqueue are atomic under the room lock, so concurrent submitters
// cannot oversubscribe the queue or double-book a user. Rejections are
// synchronous and leave no trace.
func (e *Engine) Submit(ctx context.Context, roomID string, user User, language, code, input string) (*Submission, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required")
	}
	if user.ID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	e.closedMu.Lock()
	if e.closed {
		e.closedMu.Unlock()
		return nil, ErrEngineClosed
	}
	e.closedMu.Unlock()

	language = e.runtimes.Resolve(language)

	// A finalize draining the last execution can release the room
	// between the map lookup and the lock. Retry on a released state
	// so the submission never lands in a state nobody else can see.
	var room *roomState
	for {
		room = e.room(roomID)
		room.mu.Lock()
		if !room.released {
			break
		}
		room.mu.Unlock()
	}

	if _, busy := room.byUser[user.ID]; busy {
		room.mu.Unlock()
		e.recordRejection("user_busy")
		return nil, ErrUserBusy
	}
	if len(room.queue) >= e.cfg.MaxQueueSize {
		room.mu.Unlock()
		e.recordRejection("queue_full")
		return nil, ErrQueueFull
	}

	// Validation is pure and bounded by the code size cap, so holding
	// the room lock across it keeps check-then-enqueue atomic without
	// meaningful contention.
	report, err := e.validator.Validate(language, code, input)
	if err != nil {
		room.mu.Unlock()
		e.recordRejection("validation")
		return nil, err
	}

	req := &ExecutionRequest{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		User:        user,
		Language:    language,
		Code:        code,
		Input:       input,
		SubmittedAt: time.Now(),
		Status:      results.StatusQueued,
	}
	sub := newSubmission(req)
	sub.complexity = report.ComplexityScore

	room.queue = append(room.queue, sub)
	room.byUser[user.ID] = sub
	position := len(room.queue)
	waitMS := e.estimateWaitMS(position, len(room.active))

	// Published while still holding the room lock: a concurrent drain
	// cannot pop this submission yet, so no started event for it can
	// reach viewers before the queued event.
	e.publish(roomID, events.Event{
		Type:            events.TypeQueued,
		ExecutionID:     req.ID,
		RoomID:          roomID,
		UserID:          user.ID,
		DisplayName:     user.DisplayName,
		Language:        req.Language,
		Status:          string(results.StatusQueued),
		QueuePosition:   position,
		EstimatedWaitMS: waitMS,
		Timestamp:       req.SubmittedAt,
	})
	room.mu.Unlock()

	e.statsMu.Lock()
	e.totalAccepted++
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.CodeSizeBytes.Observe(float64(len(code)))
	}

	log.Info().
		Str("exec_id", req.ID).
		Str("room_id", roomID).
		Str("user_id", user.ID).
		Str("language", req.Language).
		Int("position", position).
		Int("complexity", report.ComplexityScore).
		Msg("execution queued")

	e.drain(roomID, room)
	return sub, nil
}

// Cancel removes a user's queued execution. Executing requests cannot
// be cancelled; they run to their terminal status.
func (e *Engine) Cancel(roomID, userID string) error {
	e.roomsMu.Lock()
	room, ok := e.rooms[roomID]
	e.roomsMu.Unlock()
	if !ok {
		return ErrNotFound
	}

	room.mu.Lock()
	if room.released {
		// Released states are empty; the lookup raced a room release.
		room.mu.Unlock()
		return ErrNotFound
	}
	sub, ok := room.byUser[userID]
	if !ok {
		room.mu.Unlock()
		return ErrNotFound
	}
	if _, executing := room.active[sub.Request.ID]; executing {
		room.mu.Unlock()
		return ErrNotCancellable
	}
	room.removeQueued(sub.Request.ID)
	delete(room.byUser, userID)
	sub.Request.Status = results.StatusCancelled
	room.mu.Unlock()

	now := time.Now()
	res := &results.Result{
		ID:          sub.Request.ID,
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: sub.Request.User.DisplayName,
		Language:    sub.Request.Language,
		Status:      results.StatusCancelled,
		SubmittedAt: sub.Request.SubmittedAt,
		EndedAt:     &now,
	}
	if sub.claimFinalize() {
		e.recordTerminal(res, 0)

		log.Info().
			Str("exec_id", res.ID).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("queued execution cancelled")

		e.publish(roomID, events.Event{
			Type:        events.TypeCancelled,
			ExecutionID: res.ID,
			RoomID:      roomID,
			UserID:      userID,
			DisplayName: res.DisplayName,
			Language:    res.Language,
			Status:      string(results.StatusCancelled),
			Timestamp:   now,
		})
		sub.complete(res, nil)
	}

	e.updateRoomGauges(roomID, room)
	e.maybeReleaseRoom(roomID)
	return nil
}

// drain starts queued executions while the room has capacity. Strict
// FIFO: start order equals admission order.
func (e *Engine) drain(roomID string, room *roomState) {
	var started []*Submission

	room.mu.Lock()
	for len(room.active) < e.cfg.MaxConcurrentExecutions && len(room.queue) > 0 {
		sub := room.queue[0]
		room.queue = room.queue[1:]
		sub.Request.Status = results.StatusExecuting
		sub.startedAt = time.Now()
		room.active[sub.Request.ID] = sub
		started = append(started, sub)
	}
	room.mu.Unlock()

	e.updateRoomGauges(roomID, room)

	for _, sub := range started {
		if e.metrics != nil {
			e.metrics.QueueWaitDuration.Observe(sub.startedAt.Sub(sub.Request.SubmittedAt).Seconds())
		}
		e.publish(roomID, events.Event{
			Type:        events.TypeStarted,
			ExecutionID: sub.Request.ID,
			RoomID:      roomID,
			UserID:      sub.Request.User.ID,
			DisplayName: sub.Request.User.DisplayName,
			Language:    sub.Request.Language,
			Status:      string(results.StatusExecuting),
			Timestamp:   sub.startedAt,
		})

		e.wg.Add(1)
		go e.execute(roomID, room, sub)
	}
}

func (e *Engine) execute(roomID string, room *roomState, sub *Submission) {
	defer e.wg.Done()

	req := sub.Request
	lc := e.languages[req.Language]
	timeout := lc.Timeout
	if timeout <= 0 {
		timeout = e.cfg.ExecutionTimeout
	}

	ctx, span := e.tracer.StartSpan(context.Background(), "run",
		monitor.AttrExecID.String(req.ID),
		monitor.AttrRoomID.String(roomID),
		monitor.AttrUserID.String(req.User.ID),
		monitor.AttrLanguage.String(req.Language),
	)
	defer span.End()

	type outcome struct {
		res *sandbox.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		if e.backend == nil {
			ch <- outcome{nil, fmt.Errorf("%w: no sandbox backend", sandbox.ErrContainerdDown)}
			return
		}
		res, err := e.backend.Execute(ctx, sandbox.Request{
			Language: req.Language,
			Code:     req.Code,
			Stdin:    req.Input,
			Timeout:  timeout,
			Limits:   sandbox.LimitsFor(lc),
		})
		ch <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-time.After(timeout + watchdogGrace):
		// Backend failed to honor its own deadline. Declare the run
		// timed out; a late backend return loses the resolution race
		// and is dropped.
		log.Error().
			Str("exec_id", req.ID).
			Dur("timeout", timeout).
			Msg("watchdog fired, backend did not return")
		out = outcome{nil, sandbox.ErrTimeout}
	}

	now := time.Now()
	res := &results.Result{
		ID:              req.ID,
		RoomID:          roomID,
		UserID:          req.User.ID,
		DisplayName:     req.User.DisplayName,
		Language:        req.Language,
		SubmittedAt:     req.SubmittedAt,
		StartedAt:       &sub.startedAt,
		EndedAt:         &now,
		DurationMS:      now.Sub(sub.startedAt).Milliseconds(),
		ComplexityScore: sub.complexity,
	}
	if out.res != nil {
		res.Stdout = out.res.Stdout
		res.Stderr = out.res.Stderr
		res.ExitCode = out.res.ExitCode
	}

	eventType := events.TypeCompleted
	switch {
	case sandbox.IsTimeout(out.err):
		res.Status = results.StatusTimeout
		res.Error = fmt.Sprintf("execution exceeded the %s time limit", timeout)
		eventType = events.TypeFailed
	case out.err != nil:
		res.Status = results.StatusFailed
		res.Error = out.err.Error()
		eventType = events.TypeFailed
	case res.ExitCode != 0:
		res.Status = results.StatusFailed
		res.Error = fmt.Sprintf("exited with status %d", res.ExitCode)
		eventType = events.TypeFailed
	default:
		res.Status = results.StatusCompleted
	}

	span.SetAttributes(
		monitor.AttrStatus.String(string(res.Status)),
		monitor.AttrExitCode.Int(res.ExitCode),
		monitor.AttrDurationMS.Int64(res.DurationMS),
	)

	e.finalize(roomID, room, sub, res, eventType)
}

// finalize releases the room slot, records the terminal result, and
// notifies the room. Exactly one caller wins the resolution race.
func (e *Engine) finalize(roomID string, room *roomState, sub *Submission, res *results.Result, eventType events.Type) {
	if !sub.claimFinalize() {
		return
	}

	room.mu.Lock()
	delete(room.active, res.ID)
	delete(room.byUser, res.UserID)
	sub.Request.Status = res.Status
	room.mu.Unlock()

	e.recordTerminal(res, res.DurationMS)

	log.Info().
		Str("exec_id", res.ID).
		Str("room_id", roomID).
		Str("status", string(res.Status)).
		Int64("duration_ms", res.DurationMS).
		Msg("execution finished")

	ev := events.Event{
		Type:        eventType,
		ExecutionID: res.ID,
		RoomID:      roomID,
		UserID:      res.UserID,
		DisplayName: res.DisplayName,
		Language:    res.Language,
		Status:      string(res.Status),
		DurationMS:  res.DurationMS,
		Timestamp:   time.Now(),
	}
	if eventType == events.TypeCompleted {
		ev.Stdout = res.Stdout
		ev.Stderr = res.Stderr
	} else {
		ev.Error = res.Error
		ev.Stdout = res.Stdout
		ev.Stderr = res.Stderr
	}
	e.publish(roomID, ev)
	sub.complete(res, nil)

	// Freed a slot; the next queued request starts immediately.
	e.drain(roomID, room)
	e.maybeReleaseRoom(roomID)
}

// recordTerminal writes the result to the store and sinks and bumps the
// aggregate counters.
func (e *Engine) recordTerminal(res *results.Result, durationMS int64) {
	e.store.Put(res)
	if e.audit != nil {
		e.audit.Record(res)
	}

	e.statsMu.Lock()
	e.byStatus[res.Status]++
	if res.Status != results.StatusCancelled {
		e.totalDurMS += durationMS
		e.timedRuns++
	}
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordExecution(res.Language, string(res.Status), float64(durationMS)/1000)
	}
}

// estimateWaitMS predicts queue wait from the average run duration.
// Callers hold the room lock.
func (e *Engine) estimateWaitMS(position, active int) int64 {
	avg := e.avgDurationMS()
	wait := int64(position-1) * avg
	if active >= e.cfg.MaxConcurrentExecutions {
		wait += avg
	}
	return wait
}

func (e *Engine) avgDurationMS() int64 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	if e.timedRuns == 0 {
		// No history yet; assume runs use half the allowed wall clock.
		return e.cfg.ExecutionTimeout.Milliseconds() / 2
	}
	return e.totalDurMS / e.timedRuns
}

func (e *Engine) room(roomID string) *roomState {
	e.roomsMu.Lock()
	defer e.roomsMu.Unlock()
	room, ok := e.rooms[roomID]
	if !ok {
		room = newRoomState()
		e.rooms[roomID] = room
	}
	return room
}

// maybeReleaseRoom drops an idle room's state so long-lived processes
// do not accumulate one entry per room ever seen.
func (e *Engine) maybeReleaseRoom(roomID string) {
	e.roomsMu.Lock()
	defer e.roomsMu.Unlock()
	room, ok := e.rooms[roomID]
	if !ok {
		return
	}
	room.mu.Lock()
	if room.empty() {
		room.released = true
		delete(e.rooms, roomID)
	}
	room.mu.Unlock()
}

func (e *Engine) publish(roomID string, ev events.Event) {
	if e.publisher != nil {
		e.publisher.Publish(roomID, ev)
	}
}

func (e *Engine) recordRejection(reason string) {
	if e.metrics != nil {
		e.metrics.RecordRejection(reason)
	}
}

func (e *Engine) updateRoomGauges(roomID string, room *roomState) {
	if e.metrics == nil {
		return
	}
	room.mu.Lock()
	queued, active := len(room.queue), len(room.active)
	room.mu.Unlock()
	e.metrics.SetRoomGauges(roomID, queued, active)
}

// Close stops accepting submissions, cancels everything still queued,
// and waits for active executions to finish or ctx to expire.
func (e *Engine) Close(ctx context.Context) error {
	e.closedMu.Lock()
	if e.closed {
		e.closedMu.Unlock()
		return nil
	}
	e.closed = true
	e.closedMu.Unlock()

	e.roomsMu.Lock()
	rooms := make(map[string]*roomState, len(e.rooms))
	for id, room := range e.rooms {
		rooms[id] = room
	}
	e.roomsMu.Unlock()

	for roomID, room := range rooms {
		room.mu.Lock()
		queued := room.queue
		room.queue = nil
		for _, sub := range queued {
			delete(room.byUser, sub.Request.User.ID)
			sub.Request.Status = results.StatusCancelled
		}
		room.mu.Unlock()

		for _, sub := range queued {
			now := time.Now()
			res := &results.Result{
				ID:          sub.Request.ID,
				RoomID:      roomID,
				UserID:      sub.Request.User.ID,
				DisplayName: sub.Request.User.DisplayName,
				Language:    sub.Request.Language,
				Status:      results.StatusCancelled,
				SubmittedAt: sub.Request.SubmittedAt,
				EndedAt:     &now,
				Error:       "server shutting down",
			}
			if sub.claimFinalize() {
				e.recordTerminal(res, 0)
				sub.complete(res, nil)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("engine drained")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("engine shutdown timed out with executions still active")
		return ctx.Err()
	}
}
