// internal/executor/executor.go
// Package executor routes field instructions to type-specific handlers and
// wraps every dispatched action in bounded retry plus post-condition
// verification. It is the single entry point orchestration code calls per
// field; nothing below it is re-entered concurrently for the same page.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kilravok/formweaver/internal/config"
	"github.com/kilravok/formweaver/internal/diagnostics"
	"github.com/kilravok/formweaver/internal/driver"
	"github.com/kilravok/formweaver/internal/dropdown"
	"github.com/kilravok/formweaver/internal/frames"
	"github.com/kilravok/formweaver/internal/locator"
)

// FieldType enumerates the widget classes the dispatcher knows how to
// drive.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldTextarea  FieldType = "textarea"
	FieldCheckbox  FieldType = "checkbox"
	FieldRadio     FieldType = "radio"
	FieldFile      FieldType = "file"
	FieldSelect    FieldType = "select"
	FieldTypeahead FieldType = "typeahead"
)

// ActionContext is one field instruction as produced by the external
// field-classification collaborator. The engine executes it; it does not
// second-guess the mapping.
type ActionContext struct {
	Selector    string
	FieldType   FieldType
	TargetValue string
	// Values carries multi-value payloads: file paths for file inputs.
	Values []string
	// FrameIdentifier pins the frame; empty means "find it".
	FrameIdentifier string
	// FallbackText is a human-readable field description, logging only.
	FallbackText string
}

// InteractionResult is the outcome of one ActionContext. Produced exactly
// once per action and never mutated afterward.
type InteractionResult struct {
	Success         bool
	FieldIdentifier string
	InteractionType FieldType
	// Error holds the final failure message, ErrorKind its taxonomy class.
	Error      string
	ErrorKind  string
	RetryCount int
	Details    map[string]any
}

// Executor owns the retry/verification loop for one page.
type Executor struct {
	page     driver.Page
	mapper   *frames.Mapper
	loc      *locator.Locator
	dropdown *dropdown.Engine
	rec      *diagnostics.Recorder
	logger   *zap.Logger
	cfg      config.EngineConfig

	// pageSem serializes all field actions; one browser page cannot take
	// concurrent interaction reliably.
	pageSem *semaphore.Weighted
	// limiter paces how fast consecutive field actions may start.
	limiter *rate.Limiter
}

// New wires an Executor over a page. rec may be nil.
func New(page driver.Page, mapper *frames.Mapper, rec *diagnostics.Recorder, logger *zap.Logger, cfg config.EngineConfig) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = diagnostics.NewRecorder(zap.NewNop())
	}
	pacing := rate.Inf
	if cfg.PacingRPS > 0 {
		pacing = rate.Limit(cfg.PacingRPS)
	}
	return &Executor{
		page:     page,
		mapper:   mapper,
		loc:      locator.New(page, logger),
		dropdown: dropdown.NewEngine(page, logger, rec, cfg.MatchThreshold),
		rec:      rec,
		logger:   logger.Named("executor"),
		cfg:      cfg,
		pageSem:  semaphore.NewWeighted(1),
		limiter:  rate.NewLimiter(pacing, 1),
	}
}

// Execute runs one field instruction to completion: frame resolution,
// selector resolution, the type handler, verification, and the bounded
// retry loop around all of it. It never panics and never returns an
// unclassified failure.
func (x *Executor) Execute(ctx context.Context, action ActionContext) (result InteractionResult) {
	result = InteractionResult{
		FieldIdentifier: action.Selector,
		InteractionType: action.FieldType,
		Details:         map[string]any{},
	}
	if action.FallbackText != "" {
		result.Details["field"] = action.FallbackText
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", ErrActionExecutionFailed, r)
			result.Success = false
			result.Error = err.Error()
			result.ErrorKind = classify(err)
			x.logger.Error("Recovered from panic during field action",
				zap.String("selector", action.Selector), zap.Any("panic", r))
		}
	}()

	stage := x.rec.StageStart("field_action").
		Detail("selector", action.Selector).
		Detail("type", string(action.FieldType))
	defer func() {
		var stageErr error
		if result.Error != "" {
			stage.Detail("error_kind", result.ErrorKind)
			stageErr = errors.New(result.Error)
		}
		stage.End(result.Success, stageErr)
	}()

	if err := x.limiter.Wait(ctx); err != nil {
		return x.fail(result, fmt.Errorf("%w: pacing wait: %v", ErrActionExecutionFailed, err))
	}
	if err := x.pageSem.Acquire(ctx, 1); err != nil {
		return x.fail(result, fmt.Errorf("%w: page busy: %v", ErrActionExecutionFailed, err))
	}
	defer x.pageSem.Release(1)

	var lastErr error
	for attempt := 1; attempt <= x.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, x.cfg.ActionTimeout)
		err := x.attempt(attemptCtx, action, &result)
		cancel()

		if err == nil {
			result.Success = true
			result.Details["attempts"] = attempt
			return result
		}
		lastErr = err
		result.RetryCount++
		x.logger.Warn("Field action attempt failed",
			zap.String("selector", action.Selector),
			zap.Int("attempt", attempt),
			zap.Int("max", x.cfg.MaxRetries),
			zap.String("kind", classify(err)),
			zap.Error(err))

		if fatal(err) {
			break
		}
		if attempt < x.cfg.MaxRetries {
			// Linear backoff: delay grows with the attempt number.
			if werr := sleep(ctx, x.cfg.RetryDelay*time.Duration(attempt)); werr != nil {
				lastErr = fmt.Errorf("%w: canceled during backoff: %v", ErrActionExecutionFailed, werr)
				break
			}
		}
	}
	return x.fail(result, lastErr)
}

// fail finalizes a result with a classified error.
func (x *Executor) fail(result InteractionResult, err error) InteractionResult {
	result.Success = false
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = classify(err)
	}
	return result
}

// attempt performs a single resolution + dispatch + verification pass.
func (x *Executor) attempt(ctx context.Context, action ActionContext, result *InteractionResult) error {
	frameDriverID, frameIdent, err := x.resolveFrame(ctx, action)
	if err != nil {
		return err
	}
	result.Details["frame"] = frameIdent

	selector, err := x.loc.Resolve(ctx, frameDriverID, action.Selector)
	if err != nil {
		return err
	}
	result.Details["resolved_selector"] = selector

	return x.dispatch(ctx, frameDriverID, selector, action, result)
}

// resolveFrame turns the instruction's frame identifier (or its absence)
// into a concrete driver frame id.
func (x *Executor) resolveFrame(ctx context.Context, action ActionContext) (driverID, identifier string, err error) {
	if len(x.mapper.Records()) == 0 {
		if err := x.mapper.MapFrames(ctx); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrFrameDetached, err)
		}
	}

	if action.FrameIdentifier != "" {
		rec, ok := x.mapper.Lookup(action.FrameIdentifier)
		if !ok {
			return "", "", fmt.Errorf("%w: unknown frame %q", ErrElementNotFound, action.FrameIdentifier)
		}
		return rec.DriverID, rec.Identifier, nil
	}

	ident, err := x.mapper.FindFrameForSelector(ctx, locator.NormalizeSelector(action.Selector))
	if err != nil {
		return "", "", err
	}
	rec, ok := x.mapper.Lookup(ident)
	if !ok {
		return "", "", fmt.Errorf("%w: frame %q vanished", ErrFrameDetached, ident)
	}
	return rec.DriverID, rec.Identifier, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// PlanSummary aggregates a batch run.
type PlanSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Results   []InteractionResult
}

// ExecuteAll runs an ordered list of field instructions. stopOnError halts
// at the first failed field; page loss always halts.
func (x *Executor) ExecuteAll(ctx context.Context, actions []ActionContext, stopOnError bool) PlanSummary {
	summary := PlanSummary{Total: len(actions)}
	for _, action := range actions {
		res := x.Execute(ctx, action)
		summary.Results = append(summary.Results, res)
		if res.Success {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		if res.ErrorKind == KindPageLost {
			x.logger.Error("Page lost, aborting remaining fields",
				zap.Int("remaining", summary.Total-len(summary.Results)))
			break
		}
		if stopOnError {
			break
		}
	}
	return summary
}
