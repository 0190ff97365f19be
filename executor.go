package foreach

import (
	"context"
	"time"

	"github.com/autom8ter/foreach/errors"
	"github.com/cenkalti/backoff/v4"
)

// LogSink receives the values of Log intents
type LogSink func(ctx context.Context, id string, value any) error

// RetryPolicy bounds the retries of transiently failing mutations
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Executor applies mutation intents to a container
type Executor struct {
	container  Container
	logger     Logger
	metrics    *Metrics
	sink       LogSink
	validators []DocumentValidator
	policy     RetryPolicy
	dryRun     bool
}

// NewExecutor creates an executor for the container. A nil sink writes Log intents to the logger.
func NewExecutor(container Container, logger Logger, sink LogSink, policy RetryPolicy, dryRun bool, metrics *Metrics, validators ...DocumentValidator) *Executor {
	if logger == nil {
		logger = NopLogger()
	}
	e := &Executor{
		container:  container,
		logger:     logger,
		metrics:    metrics,
		sink:       sink,
		validators: append([]DocumentValidator{RequireID}, validators...),
		policy:     policy,
		dryRun:     dryRun,
	}
	if e.sink == nil {
		e.sink = e.logSink
	}
	return e
}

func (e *Executor) logSink(ctx context.Context, id string, value any) error {
	e.logger.Info(ctx, "document log", map[string]any{"id": id, "value": value})
	return nil
}

// Apply performs the intent for the document with the given id
func (e *Executor) Apply(ctx context.Context, id string, intent Intent) RunResult {
	result := RunResult{ID: id, Kind: intent.Kind}
	switch intent.Kind {
	case NoOp:
		e.logger.Info(ctx, "ignoring document", map[string]any{"id": id})
		result.Success = true
	case Log:
		if err := e.sink(ctx, id, intent.Value); err != nil {
			result.Err = &MutationFailedError{ID: id, Kind: Log, Attempts: 1, Err: err}
			return result
		}
		result.Success = true
	case Delete:
		e.logger.Info(ctx, "deleting document", map[string]any{"id": id, "partition_key": intent.PartitionKey, "dry_run": e.dryRun})
		result.Attempts, result.Err = e.retry(ctx, id, Delete, func(ctx context.Context) error {
			return e.container.DeleteItem(ctx, id, intent.PartitionKey)
		})
		result.Success = result.Err == nil
	case Replace:
		if intent.Document == nil {
			result.Err = &MutationFailedError{ID: id, Kind: Replace, Err: errors.New(errors.Validation, "missing replacement document")}
			return result
		}
		for _, validate := range e.validators {
			if err := validate(ctx, intent.Document); err != nil {
				result.Err = &MutationFailedError{ID: id, Kind: Replace, Err: err}
				return result
			}
		}
		tags := map[string]any{"id": id, "new_id": intent.Document.ID(), "dry_run": e.dryRun}
		if intent.Original != nil {
			tags["changes"] = intent.Document.Changes(intent.Original)
		}
		e.logger.Info(ctx, "replacing document", tags)
		result.Attempts, result.Err = e.retry(ctx, id, Replace, func(ctx context.Context) error {
			return e.container.UpsertItem(ctx, intent.Document)
		})
		result.Success = result.Err == nil
	default:
		result.Err = &MutationFailedError{ID: id, Kind: intent.Kind, Err: errors.New(errors.Validation, "unknown intent kind %d", intent.Kind)}
	}
	return result
}

// retry runs op until it succeeds, fails permanently or runs out of retries
func (e *Executor) retry(ctx context.Context, id string, kind Kind, op func(ctx context.Context) error) (int, error) {
	if e.dryRun {
		return 0, nil
	}
	var attempts int
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.observeRetry(kind)
		e.logger.Warn(ctx, "retrying mutation", map[string]any{
			"id":      id,
			"kind":    kind.String(),
			"attempt": attempts,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}
	if err := backoff.RetryNotify(operation, e.newBackOff(ctx), notify); err != nil {
		return attempts, &MutationFailedError{ID: id, Kind: kind, Attempts: attempts, Err: err}
	}
	return attempts, nil
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if e.policy.InitialBackoff > 0 {
		exp.InitialInterval = e.policy.InitialBackoff
	}
	if e.policy.MaxBackoff > 0 {
		exp.MaxInterval = e.policy.MaxBackoff
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(e.policy.MaxRetries)), ctx)
}
