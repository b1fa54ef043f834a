package scheduler

import (
    "container/heap"
    "context"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/rs/zerolog/log"

    "github.com/local/pdfbridge/internal/artifact"
    "github.com/local/pdfbridge/internal/metrics"
)

// Task binds the artifacts and record of one conversion to an absolute fire
// instant. The fire time is a timestamp, not a captured delay, so a fake clock
// can drive tests deterministically.
type Task struct {
    ID        string
    RecordID  string
    Artifacts []artifact.Ref
    FireAt    time.Time
}

// State is the lifecycle of a scheduled task. Firing is transient and only
// exists to make a double fire of the same task a no-op.
type State int32

const (
    StatePending State = iota
    StateFiring
    StateCompleted
)

func (s State) String() string {
    switch s {
    case StatePending: return "pending"
    case StateFiring: return "firing"
    case StateCompleted: return "completed"
    }
    return "unknown"
}

// Handle tracks a scheduled task. Done is closed once execution finishes.
type Handle struct {
    task  Task
    state int32
    done  chan struct{}
}

func (h *Handle) Task() Task   { return h.task }
func (h *Handle) State() State { return State(atomic.LoadInt32(&h.state)) }
func (h *Handle) Done() <-chan struct{} { return h.done }

// ArtifactRemover deletes one artifact; removing a missing file must succeed.
type ArtifactRemover interface {
    Remove(path string) error
}

// RecordDeleter deletes one conversion record; a missing id must succeed.
type RecordDeleter interface {
    Delete(ctx context.Context, id string) error
}

// MirrorDeleter removes an off-host copy of an artifact, when mirroring is on.
type MirrorDeleter interface {
    Delete(ctx context.Context, path string) error
}

// Scheduler owns all pending cleanup tasks in process memory: a min-heap
// ordered by fire time drained by a single loop goroutine. Tasks cannot be
// cancelled, and a restart strands whatever was pending; recovering those
// orphans is left to external garbage collection.
type Scheduler struct {
    artifacts ArtifactRemover
    records   RecordDeleter
    mirror    MirrorDeleter // may be nil

    now func() time.Time

    mu      sync.Mutex
    pending taskHeap
    wake    chan struct{}
    stop    chan struct{}
    wg      sync.WaitGroup
    closed  bool
}

// Options configures a Scheduler. Now is for tests; nil means time.Now.
type Options struct {
    Artifacts ArtifactRemover
    Records   RecordDeleter
    Mirror    MirrorDeleter
    Now       func() time.Time
}

func New(opts Options) *Scheduler {
    now := opts.Now
    if now == nil { now = time.Now }
    s := &Scheduler{
        artifacts: opts.Artifacts,
        records:   opts.Records,
        mirror:    opts.Mirror,
        now:       now,
        wake:      make(chan struct{}, 1),
        stop:      make(chan struct{}),
    }
    heap.Init(&s.pending)
    s.wg.Add(1)
    go s.loop()
    return s
}

// Schedule registers a cleanup task for asynchronous execution at or after
// task.FireAt. It never blocks on the execution itself.
func (s *Scheduler) Schedule(task Task) (*Handle, error) {
    if task.FireAt.IsZero() {
        return nil, fmt.Errorf("task %s has no fire time", task.ID)
    }
    h := &Handle{task: task, done: make(chan struct{})}
    s.mu.Lock()
    if s.closed {
        s.mu.Unlock()
        return nil, fmt.Errorf("scheduler closed")
    }
    heap.Push(&s.pending, h)
    n := s.pending.Len()
    s.mu.Unlock()
    metrics.SetPendingTasks(n)
    log.Debug().Str("task_id", task.ID).Str("record_id", task.RecordID).Time("fire_at", task.FireAt).Int("artifacts", len(task.Artifacts)).Msg("cleanup task scheduled")
    // nudge the loop so it re-arms its timer for the new head
    select {
    case s.wake <- struct{}{}:
    default:
    }
    return h, nil
}

// Pending returns the number of tasks not yet handed to execution.
func (s *Scheduler) Pending() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.pending.Len()
}

// Close stops the scheduling loop. Pending tasks are abandoned, matching the
// restart semantics: in-memory only, best effort.
func (s *Scheduler) Close() {
    s.mu.Lock()
    if s.closed {
        s.mu.Unlock()
        return
    }
    s.closed = true
    s.mu.Unlock()
    close(s.stop)
    s.wg.Wait()
}

func (s *Scheduler) loop() {
    defer s.wg.Done()
    timer := time.NewTimer(time.Hour)
    defer timer.Stop()
    for {
        s.mu.Lock()
        var wait time.Duration = time.Hour
        if s.pending.Len() > 0 {
            wait = s.pending[0].task.FireAt.Sub(s.now())
            if wait < 0 { wait = 0 }
        }
        s.mu.Unlock()

        if !timer.Stop() {
            select {
            case <-timer.C:
            default:
            }
        }
        timer.Reset(wait)

        select {
        case <-s.stop:
            return
        case <-s.wake:
            continue
        case <-timer.C:
            s.fireDue()
        }
    }
}

// fireDue pops every task whose fire time has arrived and executes each on its
// own goroutine so a slow deletion never delays the next task.
func (s *Scheduler) fireDue() {
    now := s.now()
    var due []*Handle
    s.mu.Lock()
    for s.pending.Len() > 0 && !s.pending[0].task.FireAt.After(now) {
        due = append(due, heap.Pop(&s.pending).(*Handle))
    }
    n := s.pending.Len()
    s.mu.Unlock()
    metrics.SetPendingTasks(n)
    for _, h := range due {
        go s.execute(h)
    }
}

// execute runs one cleanup task exactly once. Every deletion is attempted
// independently: a failed file removal is logged and counted but never stops
// the remaining artifacts or the record delete. Missing files and missing
// records count as success.
func (s *Scheduler) execute(h *Handle) {
    if !atomic.CompareAndSwapInt32(&h.state, int32(StatePending), int32(StateFiring)) {
        // already fired (or firing); re-entry is a no-op
        return
    }
    defer func() {
        atomic.StoreInt32(&h.state, int32(StateCompleted))
        close(h.done)
    }()

    task := h.task
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()

    failures := 0
    for _, ref := range task.Artifacts {
        if err := s.artifacts.Remove(ref.Path); err != nil {
            failures++
            metrics.IncCleanupDeletion(string(ref.Kind), "error")
            log.Error().Err(err).Str("task_id", task.ID).Str("path", ref.Path).Str("kind", string(ref.Kind)).Msg("cleanup: artifact delete failed")
            continue
        }
        metrics.IncCleanupDeletion(string(ref.Kind), "ok")
        if s.mirror != nil && ref.Kind == artifact.KindConverted {
            if err := s.mirror.Delete(ctx, ref.Path); err != nil {
                log.Warn().Err(err).Str("task_id", task.ID).Str("path", ref.Path).Msg("cleanup: mirror delete failed")
            }
        }
    }

    // tasks covering only source artifacts carry no record
    if task.RecordID != "" {
        if err := s.records.Delete(ctx, task.RecordID); err != nil {
            failures++
            metrics.IncCleanupDeletion("record", "error")
            log.Error().Err(err).Str("task_id", task.ID).Str("record_id", task.RecordID).Msg("cleanup: record delete failed")
        } else {
            metrics.IncCleanupDeletion("record", "ok")
        }
    }

    if failures == 0 {
        metrics.IncCleanupTask("clean")
        log.Info().Str("task_id", task.ID).Str("record_id", task.RecordID).Int("artifacts", len(task.Artifacts)).Msg("cleanup task completed")
    } else {
        metrics.IncCleanupTask("partial")
        log.Warn().Str("task_id", task.ID).Str("record_id", task.RecordID).Int("failures", failures).Msg("cleanup task completed with failures")
    }
}

// taskHeap orders handles by fire time, earliest first.
type taskHeap []*Handle

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].task.FireAt.Before(h[j].task.FireAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Handle)) }
func (h *taskHeap) Pop() interface{} {
    old := *h
    n := len(old)
    item := old[n-1]
    old[n-1] = nil
    *h = old[:n-1]
    return item
}
