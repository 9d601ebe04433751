package job

import (
	"context"
	"slices"
	"sync"

	"github.com/pithecene-io/pulse/cache"
)

// TriggerKey is the in-flight key shared by every run request.
const TriggerKey = "job:update"

// Trigger collapses concurrent run requests (scheduled and manual) into one
// execution. Every caller that overlaps a run observes the same Result.
type Trigger struct {
	job   *Job
	cache *cache.Store

	life     context.Context
	shutdown context.CancelFunc
	once     sync.Once

	mu       sync.Mutex
	onFinish []func(*Result)
}

// NewTrigger coalesces runs of j through c's in-flight table.
func NewTrigger(j *Job, c *cache.Store) *Trigger {
	life, cancel := context.WithCancel(context.Background())
	return &Trigger{job: j, cache: c, life: life, shutdown: cancel}
}

// Run starts a run or joins the one in flight. shared is true when this
// caller joined an existing run. The run outlives ctx; use Close to stop it.
func (t *Trigger) Run(ctx context.Context, opts Options) (res *Result, shared bool, err error) {
	return cache.Coalesce(ctx, t.cache, TriggerKey, func(ctx context.Context) (*Result, error) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(t.life, cancel)
		defer stop()
		res, err := t.job.Run(runCtx, opts)
		if res != nil {
			t.finished(res)
		}
		return res, err
	})
}

// OnFinish registers fn to run once per execution, before any caller of
// Run sees the Result. Scheduled and manual runs both pass through it.
func (t *Trigger) OnFinish(fn func(*Result)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFinish = append(t.onFinish, fn)
}

func (t *Trigger) finished(res *Result) {
	t.mu.Lock()
	hooks := slices.Clone(t.onFinish)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(res)
	}
}

// Running reports whether a run is in flight in this process.
func (t *Trigger) Running() bool {
	return t.cache.InFlight(TriggerKey) != nil
}

// Wait returns a channel closed when the current in-flight run finishes,
// or nil if none is running.
func (t *Trigger) Wait() <-chan struct{} {
	if f := t.cache.InFlight(TriggerKey); f != nil {
		return f.Done()
	}
	return nil
}

// Close cancels any in-flight run.
func (t *Trigger) Close() {
	t.once.Do(t.shutdown)
}
