package foreach

import (
	"context"
	"io"
	"sync"

	"github.com/autom8ter/foreach/errors"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"
)

// Runner applies a transformation to every document in a container
type Runner struct {
	container    Container
	cfg          Config
	logger       Logger
	metrics      *Metrics
	checkpointer Checkpointer
	validators   []DocumentValidator
	sink         LogSink
}

// NewRunner creates a runner for the container
func NewRunner(container Container, cfg Config, opts ...Option) (*Runner, error) {
	if container == nil {
		return nil, errors.New(errors.Validation, "a container is required")
	}
	if cfg.RunID == "" {
		cfg.RunID = ksuid.New().String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		container:    container,
		cfg:          cfg,
		logger:       NopLogger(),
		checkpointer: NewMemoryCheckpointer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the runner's config
func (r *Runner) Config() Config {
	return r.cfg
}

type itemResult struct {
	page   int
	result RunResult
}

// RunAll reads every document, runs the transformation against it and applies the declared mutation.
// Per document failures are recorded in the summary and do not stop the run. A page read failure
// aborts the run and cancelling ctx stops reading new documents; in both cases in-flight documents
// are finished and the partial summary is returned along with the error.
func (r *Runner) RunAll(ctx context.Context, transformation Transformation) (*Summary, error) {
	var (
		runID   = r.cfg.RunID
		summary = newSummary(runID)
		tags    = map[string]any{"run_id": runID}
		// started mutations are never abandoned half way
		workCtx = context.WithoutCancel(ctx)
	)
	from := ""
	if r.cfg.Resume {
		token, ok, err := r.checkpointer.LoadCheckpoint(ctx, runID)
		if err != nil {
			summary.finish(true, false)
			return summary, errors.Wrap(err, errors.Internal, "failed to load checkpoint for run %s", runID)
		}
		if ok {
			from = token
			summary.setCheckpoint(token)
			r.logger.Info(ctx, "resuming run from checkpoint", map[string]any{"run_id": runID, "checkpoint": token})
		}
	}
	r.logger.Info(ctx, "starting run", map[string]any{
		"run_id":  runID,
		"workers": r.cfg.Workers,
		"dry_run": r.cfg.DryRun,
	})

	executor := NewExecutor(r.container, r.logger, r.sink, RetryPolicy{
		MaxRetries:     r.cfg.MaxRetries,
		InitialBackoff: r.cfg.InitialBackoff,
		MaxBackoff:     r.cfg.MaxBackoff,
	}, r.cfg.DryRun, r.metrics, r.validators...)
	reader := NewReader(r.container, ReaderOptions{
		PageSize: r.cfg.PageSize,
		Buffer:   r.cfg.PageBuffer,
		From:     from,
		Metrics:  r.metrics,
	})
	defer reader.Close()

	var (
		jobs      = make(chan *Item)
		results   = make(chan itemResult, r.cfg.Workers)
		tracker   = newPageTracker()
		inflight  = newKeyLock()
		collected = make(chan struct{})
		workers   errgroup.Group
	)
	go func() {
		defer close(collected)
		r.collect(workCtx, results, summary, tracker)
	}()
	for i := 0; i < r.cfg.Workers; i++ {
		workers.Go(func() error {
			for item := range jobs {
				result := r.process(workCtx, transformation, executor, item)
				inflight.release(item.Document.ID())
				results <- itemResult{page: item.Page, result: result}
			}
			return nil
		})
	}
	runErr := r.dispatch(ctx, reader, jobs, tracker, inflight)
	close(jobs)
	_ = workers.Wait()
	close(results)
	<-collected

	var readErr *ReadError
	switch {
	case runErr == nil:
		if err := r.checkpointer.ClearCheckpoint(workCtx, runID); err != nil {
			r.logger.Error(ctx, "failed to clear checkpoint", err, tags)
		}
		summary.setCheckpoint("")
		summary.finish(false, false)
		r.logger.Info(ctx, "run complete", summary.Tags())
		return summary, nil
	case errors.As(runErr, &readErr):
		summary.finish(true, false)
		r.logger.Error(ctx, "run aborted", runErr, summary.Tags())
		return summary, runErr
	default:
		summary.finish(false, true)
		r.logger.Warn(ctx, "run interrupted", summary.Tags())
		return summary, runErr
	}
}

// dispatch feeds documents to the workers until the reader is exhausted, fails or ctx is cancelled
func (r *Runner) dispatch(ctx context.Context, reader *Reader, jobs chan<- *Item, tracker *pageTracker, inflight *keyLock) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := reader.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		tracker.register(item)
		id := item.Document.ID()
		if err := inflight.acquire(ctx, id); err != nil {
			return err
		}
		select {
		case jobs <- item:
		case <-ctx.Done():
			inflight.release(id)
			return ctx.Err()
		}
	}
}

// process runs the transformation and then applies its intent. The mutation never starts before the
// transformation has returned.
func (r *Runner) process(ctx context.Context, transformation Transformation, executor *Executor, item *Item) RunResult {
	r.metrics.trackInflight(1)
	defer r.metrics.trackInflight(-1)
	id := item.Document.ID()
	intent, err := runTransform(ctx, transformation, item.Document, r.cfg.TransformTimeout)
	if err != nil {
		return RunResult{ID: id, Kind: NoOp, Err: err}
	}
	return executor.Apply(ctx, id, intent)
}

// collect is the only writer of the summary and the checkpoint
func (r *Runner) collect(ctx context.Context, results <-chan itemResult, summary *Summary, tracker *pageTracker) {
	for res := range results {
		processed := summary.add(res.result)
		r.metrics.observeResult(res.result)
		if !res.result.Success {
			r.logger.Error(ctx, "document failed", res.result.Err, map[string]any{
				"id":   res.result.ID,
				"kind": res.result.Kind.String(),
			})
		}
		if token, ok := tracker.complete(res.page); ok && token != "" {
			if err := r.checkpointer.SaveCheckpoint(ctx, r.cfg.RunID, token); err != nil {
				r.logger.Error(ctx, "failed to save checkpoint", err, map[string]any{"run_id": r.cfg.RunID})
			} else {
				summary.setCheckpoint(token)
			}
		}
		if processed%r.cfg.ProgressInterval == 0 {
			r.logger.Info(ctx, "progress", summary.Tags())
		}
	}
}

// keyLock guarantees that at most one pipeline holds a document id at a time
type keyLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyLock() *keyLock {
	return &keyLock{held: map[string]chan struct{}{}}
}

func (k *keyLock) acquire(ctx context.Context, key string) error {
	for {
		k.mu.Lock()
		released, busy := k.held[key]
		if !busy {
			k.held[key] = make(chan struct{})
			k.mu.Unlock()
			return nil
		}
		k.mu.Unlock()
		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (k *keyLock) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if released, ok := k.held[key]; ok {
		close(released)
		delete(k.held, key)
	}
}
