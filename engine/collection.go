package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/windflow-ai/windflow/expander"
	"github.com/windflow-ai/windflow/internal/clock"
	"github.com/windflow-ai/windflow/model"
	"github.com/windflow-ai/windflow/progress"
)

// runCollection resolves the input array and dispatches to the map, filter
// or reduce runner. Results are committed as CollectionResult maps.
func (e *Engine) runCollection(ctx context.Context, step *model.Step, execCtx *Context) (interface{}, error) {
	config := step.Collection
	input, err := expander.Expand(config.Input, execCtx.Vars())
	if err != nil {
		return nil, &TemplateError{Step: step.ID, Err: err}
	}
	items, ok := expander.AsSlice(input)
	if !ok {
		return nil, &CollectionError{
			Step:      step.ID,
			Operation: config.Operation,
			Err:       fmt.Errorf("input is not an array (got %T)", input),
		}
	}
	progress.UpdateCtx(ctx, progress.Delta{ItemsTotal: len(items)})

	started := clock.Now()
	var result *model.CollectionResult
	switch config.Operation {
	case model.OperationMap:
		result, err = e.runMap(ctx, step, execCtx, items)
	case model.OperationFilter:
		result, err = e.runFilter(ctx, step, execCtx, items)
	case model.OperationReduce:
		result, err = e.runReduce(ctx, step, execCtx, items)
	default:
		err = &CollectionError{Step: step.ID, Operation: config.Operation,
			Err: fmt.Errorf("unsupported operation %q", config.Operation)}
	}
	if err != nil {
		return nil, err
	}
	result.Stats.Duration = clock.Now().Sub(started)
	return result.AsMap(), nil
}

// batchPartition splits indexes [0, n) into batches of batchSize; zero
// means a single batch.
func batchPartition(n, batchSize int) [][]int {
	if batchSize <= 0 || batchSize >= n {
		if n == 0 {
			return nil
		}
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}
	}
	var batches [][]int
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		batch := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		batches = append(batches, batch)
	}
	return batches
}

func (e *Engine) parallelism(config *model.CollectionStep) int {
	if config.Concurrency != nil && config.Concurrency.MaxParallel > 0 {
		return config.Concurrency.MaxParallel
	}
	return e.config.MaxParallel
}

// elementOutcome is the per-index result of a concurrent element run.
type elementOutcome struct {
	value   interface{}
	keep    bool
	err     error
	retries int
}

// runElements executes fn once per element with bounded parallelism, batch
// partitioning and inter-batch delay. Under on_item_failure=stop the first
// failure cancels the shared context so unstarted elements never run; a
// predicate failure does the same when on_condition_error=stop.
func (e *Engine) runElements(ctx context.Context, step *model.Step, items []interface{},
	fn func(ctx context.Context, index int, item interface{}) elementOutcome) ([]elementOutcome, int, error) {

	config := step.Collection
	itemStop := config.ErrorHandling.ItemPolicy() == model.ItemFailureStop
	conditionStop := config.ErrorHandling.ConditionPolicy() == model.ConditionErrorStop
	stops := func(err error) bool {
		if itemStop {
			return true
		}
		if !conditionStop {
			return false
		}
		var conditionErr *ConditionError
		return errors.As(err, &conditionErr)
	}
	parallel := e.parallelism(config)
	batches := batchPartition(len(items), batchSizeOf(config))
	delay := config.Concurrency.Delay()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]elementOutcome, len(items))
	semaphore := make(chan struct{}, parallel)
	var firstFailure error
	var mux sync.Mutex

	for batchIndex, batch := range batches {
		if runCtx.Err() != nil {
			break
		}
		if batchIndex > 0 && delay > 0 {
			if err := clock.Sleep(ctx, delay); err != nil {
				return outcomes, len(batches), err
			}
		}
		var wg sync.WaitGroup
		for _, index := range batch {
			if runCtx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(i int, item interface{}) {
				defer wg.Done()
				select {
				case semaphore <- struct{}{}:
					defer func() { <-semaphore }()
				case <-runCtx.Done():
					return
				}
				if runCtx.Err() != nil {
					return
				}
				outcome := fn(runCtx, i, item)
				mux.Lock()
				outcomes[i] = outcome
				if outcome.err != nil && firstFailure == nil && stops(outcome.err) {
					firstFailure = outcome.err
					cancel()
				}
				mux.Unlock()
			}(index, items[index])
		}
		wg.Wait()
	}

	if firstFailure != nil {
		return outcomes, len(batches), firstFailure
	}
	if err := ctx.Err(); err != nil {
		return outcomes, len(batches), err
	}
	return outcomes, len(batches), nil
}

func batchSizeOf(config *model.CollectionStep) int {
	if config.Concurrency != nil {
		return config.Concurrency.BatchSize
	}
	return 0
}

// runElement runs the nested sequence for one element on a forked context,
// retrying per the error-handling policy.
func (e *Engine) runElement(ctx context.Context, step *model.Step, execCtx *Context,
	index int, item interface{}, extra map[string]interface{}) elementOutcome {

	config := step.Collection
	scope := map[string]interface{}{config.Item(): item, "index": index}
	for k, v := range extra {
		scope[k] = v
	}

	attempts := 1
	if config.ErrorHandling.ItemPolicy() == model.ItemFailureRetry {
		attempts += config.ErrorHandling.ItemRetries()
	}

	var outcome elementOutcome
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome.err = err
			return outcome
		}
		if attempt > 0 {
			outcome.retries++
			progress.UpdateCtx(ctx, progress.Delta{Retries: 1})
		}
		forked := execCtx.Fork(scope)
		value, err := e.runSequence(ctx, config.Steps, forked)
		if err == nil {
			outcome.value = value
			outcome.err = nil
			progress.UpdateCtx(ctx, progress.Delta{ItemsCompleted: 1})
			return outcome
		}
		outcome.err = err
		e.logger.Debug("collection element failed",
			zap.String("step", step.ID), zap.Int("index", index),
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	progress.UpdateCtx(ctx, progress.Delta{ItemsFailed: 1})
	return outcome
}

// runMap processes every element through the nested sequence; output slots
// stay aligned with input indexes regardless of completion order.
func (e *Engine) runMap(ctx context.Context, step *model.Step, execCtx *Context, items []interface{}) (*model.CollectionResult, error) {
	config := step.Collection
	outcomes, batches, err := e.runElements(ctx, step, items,
		func(ctx context.Context, index int, item interface{}) elementOutcome {
			return e.runElement(ctx, step, execCtx, index, item, nil)
		})

	result := &model.CollectionResult{
		Operation:  model.OperationMap,
		InputCount: len(items),
		Stats:      model.Stats{Batches: batches},
	}
	output := make([]interface{}, len(items))
	for index, outcome := range outcomes {
		result.Stats.Retries += outcome.retries
		if outcome.err != nil {
			if config.ErrorHandling.KeepErrors() {
				result.Errors = append(result.Errors, model.ItemError{Index: index, Message: outcome.err.Error()})
			}
			continue
		}
		output[index] = outcome.value
		result.OutputCount++
	}
	result.Output = output

	if err != nil {
		return nil, &CollectionError{Step: step.ID, Operation: model.OperationMap, Items: result.Errors, Err: err}
	}
	return result, nil
}

// runFilter keeps the elements whose predicate (or nested sequence result)
// is truthy, preserving input order.
func (e *Engine) runFilter(ctx context.Context, step *model.Step, execCtx *Context, items []interface{}) (*model.CollectionResult, error) {
	config := step.Collection
	conditionPolicy := config.ErrorHandling.ConditionPolicy()

	outcomes, batches, err := e.runElements(ctx, step, items,
		func(ctx context.Context, index int, item interface{}) elementOutcome {
			if config.Condition != "" {
				vars := execCtx.Fork(map[string]interface{}{config.Item(): item, "index": index}).Vars()
				keep, evalErr := expander.EvaluateBool(config.Condition, vars)
				if evalErr != nil {
					switch conditionPolicy {
					case model.ConditionErrorDefaultFalse:
						return elementOutcome{keep: false}
					case model.ConditionErrorStop:
						return elementOutcome{err: &ConditionError{Step: step.ID, Expr: config.Condition, Err: evalErr}}
					default:
						return elementOutcome{err: &ConditionError{Step: step.ID, Expr: config.Condition, Err: evalErr}, keep: false}
					}
				}
				return elementOutcome{keep: keep}
			}
			outcome := e.runElement(ctx, step, execCtx, index, item, nil)
			outcome.keep = outcome.err == nil && expander.Truthy(outcome.value)
			return outcome
		})

	result := &model.CollectionResult{
		Operation:  model.OperationFilter,
		InputCount: len(items),
		Stats:      model.Stats{Batches: batches},
	}
	var kept []interface{}
	for index, outcome := range outcomes {
		result.Stats.Retries += outcome.retries
		if outcome.err != nil {
			if config.ErrorHandling.KeepErrors() {
				result.Errors = append(result.Errors, model.ItemError{Index: index, Message: outcome.err.Error()})
			}
			continue
		}
		if outcome.keep {
			kept = append(kept, items[index])
		}
	}
	if kept == nil {
		kept = []interface{}{}
	}
	result.Output = kept
	result.OutputCount = len(kept)

	if err != nil {
		return nil, &CollectionError{Step: step.ID, Operation: model.OperationFilter, Items: result.Errors, Err: err}
	}
	return result, nil
}

// runReduce folds the elements strictly sequentially: the accumulator is
// rebound before every iteration and becomes the result of the nested
// sequence. Empty input returns the initial value without running steps.
func (e *Engine) runReduce(ctx context.Context, step *model.Step, execCtx *Context, items []interface{}) (*model.CollectionResult, error) {
	config := step.Collection
	accumulator := config.InitialValue

	result := &model.CollectionResult{
		Operation:  model.OperationReduce,
		InputCount: len(items),
	}
	if len(items) == 0 {
		result.Output = accumulator
		return result, nil
	}

	result.Stats.Batches = 1
	for index, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, &CollectionError{Step: step.ID, Operation: model.OperationReduce, Err: err}
		}
		forked := execCtx.Fork(map[string]interface{}{
			config.Item():        item,
			"index":              index,
			config.Accumulator(): accumulator,
		})
		value, err := e.runSequence(ctx, config.Steps, forked)
		if err != nil {
			progress.UpdateCtx(ctx, progress.Delta{ItemsFailed: 1})
			itemErr := model.ItemError{Index: index, Message: err.Error()}
			return nil, &CollectionError{Step: step.ID, Operation: model.OperationReduce,
				Items: []model.ItemError{itemErr}, Err: err}
		}
		accumulator = value
		progress.UpdateCtx(ctx, progress.Delta{ItemsCompleted: 1})
	}
	result.Output = accumulator
	result.OutputCount = 1
	return result, nil
}
