// internal/dropdown/dropdown.go
// Package dropdown resolves a logical value against selection widgets of
// any pedigree: native selects, ARIA listboxes, and fully custom
// JavaScript dropdowns. Options are enumerated by several complementary
// techniques, scored with fuzzy matching, and selected by one of a small
// set of gestures rotated per widget.
package dropdown

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/diagnostics"
	"github.com/kilravok/formweaver/internal/driver"
	"github.com/kilravok/formweaver/internal/match"
)

// ErrNoMatch reports that no enumerated option cleared the acceptance
// threshold and no decline fallback was available.
var ErrNoMatch = errors.New("no option matched the target value")

// Option is one enumerated dropdown entry. A batch of options is gathered
// immediately before a match attempt and discarded afterward; contents are
// often query-dependent and must never be cached across calls.
type Option struct {
	Text     string
	Value    string
	Selected bool
	// SourceSelector addresses the concrete option element when it is
	// clickable; empty for options recovered from scraped markup only.
	SourceSelector string
}

// openWait is how long a widget gets to render its option list after the
// opening click.
const openWait = 350 * time.Millisecond

// Engine performs value resolution for one page.
type Engine struct {
	page      driver.Page
	logger    *zap.Logger
	rec       *diagnostics.Recorder
	threshold float64
}

// NewEngine builds an Engine. threshold is the minimum match score an
// option needs to be accepted; rec may be nil.
func NewEngine(page driver.Page, logger *zap.Logger, rec *diagnostics.Recorder, threshold float64) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = diagnostics.NewRecorder(zap.NewNop())
	}
	return &Engine{
		page:      page,
		logger:    logger.Named("dropdown"),
		rec:       rec,
		threshold: threshold,
	}
}

// SelectValue resolves the target value against the widget at selector and
// performs the selection gesture. On success it returns the option that
// was selected so the caller can verify the observable result. Dropdown
// state cleanup always runs, success or failure.
func (e *Engine) SelectValue(ctx context.Context, frameID, selector, target string) (sel Option, err error) {
	stage := e.rec.StageStart("dropdown_select").
		Detail("selector", selector).
		Detail("target", target)
	defer func() { stage.End(err == nil, err) }()
	defer e.cleanup(ctx, frameID, target, selector)

	native, options, err := e.enumerate(ctx, frameID, selector)
	if err != nil {
		return Option{}, err
	}
	stage.Detail("options", len(options)).Detail("native", native)

	chosen, score, err := e.pick(target, options)
	if err != nil {
		return Option{}, err
	}
	stage.Detail("matched", chosen.Text).Detail("score", score)
	e.logger.Debug("Matched option",
		zap.String("target", target),
		zap.String("option", chosen.Text),
		zap.Float64("score", score))

	if err := e.applySelection(ctx, frameID, selector, target, chosen, native); err != nil {
		return Option{}, err
	}
	return chosen, nil
}

// pick scores all options and applies the decline fallback: when nothing
// clears the threshold but a decline-family option exists, selecting it
// beats guessing or leaving a sensitive field unanswered.
func (e *Engine) pick(target string, options []Option) (Option, float64, error) {
	texts := make([]string, len(options))
	for i, o := range options {
		texts[i] = o.Text
	}
	if idx, score, ok := match.Best(target, texts, e.threshold); ok {
		return options[idx], score, nil
	}
	for _, o := range options {
		if match.IsDecline(o.Text) {
			e.logger.Info("No option cleared the threshold, using decline fallback",
				zap.String("target", target),
				zap.String("option", o.Text))
			return o, 0, nil
		}
	}
	return Option{}, 0, fmt.Errorf("%w: %q among %d options", ErrNoMatch, target, len(options))
}

// applySelection runs the gesture strategies applicable to the widget,
// starting at a deterministic per-widget offset. Rotation keeps the
// interaction signature varied across fields and surfaces which gesture a
// given widget actually answers to.
func (e *Engine) applySelection(ctx context.Context, frameID, selector, target string, chosen Option, native bool) error {
	var gestures []gesture
	if native {
		gestures = []gesture{e.nativeSelect}
	} else {
		gestures = []gesture{e.clickOption, e.typeAndPick, e.keyboardConfirm}
	}

	offset := rotationOffset(target, selector, len(gestures))
	var lastErr error
	for i := 0; i < len(gestures); i++ {
		g := gestures[(offset+i)%len(gestures)]
		if err := g(ctx, frameID, selector, target, chosen); err != nil {
			lastErr = err
			e.logger.Debug("Selection gesture failed, trying next",
				zap.String("selector", selector), zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("all selection gestures failed: %w", lastErr)
}

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// rotationOffset derives the gesture starting index from a stable hash of
// (value, selector).
func rotationOffset(value, selector string, n int) int {
	if n <= 1 {
		return 0
	}
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()
	_, _ = hasher.Write([]byte(value))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(selector))
	return int(hasher.Sum64() % uint64(n))
}
