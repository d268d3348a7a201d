// internal/dropdown/gestures.go
package dropdown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/match"
)

// gesture is one interchangeable way of committing a selection.
type gesture func(ctx context.Context, frameID, selector, target string, chosen Option) error

// nativeSelect commits via the select element itself, label first since
// matching happened against option text.
func (e *Engine) nativeSelect(ctx context.Context, frameID, selector, target string, chosen Option) error {
	if err := e.page.SelectByLabel(ctx, frameID, selector, chosen.Text); err == nil {
		return nil
	}
	if chosen.Value == "" {
		return fmt.Errorf("no option labeled %q in %s", chosen.Text, selector)
	}
	return e.page.SelectByValue(ctx, frameID, selector, chosen.Value)
}

// clickOption opens the widget and clicks the chosen option element. When
// the option list re-rendered since enumeration, the visible options are
// re-scanned and re-matched before clicking.
func (e *Engine) clickOption(ctx context.Context, frameID, selector, target string, chosen Option) error {
	if chosen.SourceSelector == "" {
		return fmt.Errorf("option %q has no clickable element", chosen.Text)
	}
	if err := e.page.Click(ctx, frameID, selector); err != nil {
		return fmt.Errorf("could not open widget: %w", err)
	}
	if err := wait(ctx, openWait); err != nil {
		return err
	}

	optionSel := chosen.SourceSelector
	if count, err := e.page.Count(ctx, frameID, optionSel); err != nil || count == 0 {
		rescanned, rescanErr := e.rescan(ctx, frameID, chosen.Text)
		if rescanErr != nil {
			return rescanErr
		}
		optionSel = rescanned
	}
	return e.page.Click(ctx, frameID, optionSel)
}

// typeAndPick types progressively longer portions of the value into the
// widget, re-scanning the rendered options after each step and clicking
// the best match as soon as one appears. Typeahead lists narrow as input
// grows, so early steps catch generously-matching widgets and later steps
// the strict ones.
func (e *Engine) typeAndPick(ctx context.Context, frameID, selector, target string, chosen Option) error {
	for i, step := range typingSteps(target) {
		if err := e.page.Fill(ctx, frameID, selector, ""); err != nil {
			return fmt.Errorf("could not clear widget input: %w", err)
		}
		if err := e.page.Type(ctx, frameID, selector, step); err != nil {
			return fmt.Errorf("typing failed: %w", err)
		}
		if err := wait(ctx, openWait+time.Duration(i)*150*time.Millisecond); err != nil {
			return err
		}

		options, err := e.scanVisible(ctx, frameID)
		if err != nil {
			return err
		}
		texts := make([]string, len(options))
		for j, o := range options {
			texts[j] = o.Text
		}
		if idx, _, ok := match.Best(target, texts, e.threshold); ok {
			return e.page.Click(ctx, frameID, options[idx].SourceSelector)
		}
	}
	return fmt.Errorf("no clickable option appeared for %q", target)
}

// keyboardConfirm types a short prefix and commits the widget's own top
// suggestion with arrow-down plus enter. Used when no clickable option can
// be resolved from the DOM at all.
func (e *Engine) keyboardConfirm(ctx context.Context, frameID, selector, target string, chosen Option) error {
	if err := e.page.Click(ctx, frameID, selector); err != nil {
		return fmt.Errorf("could not focus widget: %w", err)
	}
	if err := e.page.Fill(ctx, frameID, selector, ""); err != nil {
		return fmt.Errorf("could not clear widget input: %w", err)
	}

	prefix := chosen.Text
	if prefix == "" {
		prefix = target
	}
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	if err := e.page.Type(ctx, frameID, selector, prefix); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	if err := wait(ctx, openWait*2); err != nil {
		return err
	}
	if err := e.page.Press(ctx, frameID, selector, "ArrowDown"); err != nil {
		return err
	}
	return e.page.Press(ctx, frameID, selector, "Enter")
}

// typingSteps builds the progressive input sequence for a target value:
// a 3-character prefix, a 5-character prefix, the part before a comma
// (city without state), then the full value. Duplicates collapse.
func typingSteps(target string) []string {
	target = strings.TrimSpace(target)
	var steps []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		steps = append(steps, s)
	}
	runes := []rune(target)
	if len(runes) > 3 {
		add(string(runes[:3]))
	}
	if len(runes) > 5 {
		add(string(runes[:5]))
	}
	if i := strings.IndexByte(target, ','); i > 0 {
		add(target[:i])
	}
	add(target)
	return steps
}

// rescan re-runs the visible-option scan and returns the selector of the
// option whose text best matches wanted.
func (e *Engine) rescan(ctx context.Context, frameID, wanted string) (string, error) {
	options, err := e.scanVisible(ctx, frameID)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(options))
	for i, o := range options {
		texts[i] = o.Text
	}
	idx, _, ok := match.Best(wanted, texts, e.threshold)
	if !ok {
		return "", fmt.Errorf("option %q disappeared after re-render", wanted)
	}
	return options[idx].SourceSelector, nil
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// containersVisibleScript reports whether any option container still has a
// non-zero bounding box.
const containersVisibleScript = `(function() {
	const patterns = [
		"[role='listbox']",
		".dropdown-menu",
		".select2-results",
		".chosen-results",
		".Select-menu-outer",
		"[class*='MuiAutocomplete-popper']",
		".ui-autocomplete"
	];
	for (const p of patterns) {
		for (const el of document.querySelectorAll(p)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) return true;
		}
	}
	return false;
})()`

// forceHideScript hides whatever option containers survived the gentler
// dismissals and strips scan tags.
const forceHideScript = `(function() {
	const patterns = [
		"[role='listbox']",
		".dropdown-menu",
		".select2-results",
		".chosen-results",
		".Select-menu-outer",
		"[class*='MuiAutocomplete-popper']",
		".ui-autocomplete"
	];
	for (const p of patterns) {
		for (const el of document.querySelectorAll(p)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) el.style.display = 'none';
		}
	}
	document.querySelectorAll('[data-fw-opt]').forEach(e => e.removeAttribute('data-fw-opt'));
	return true;
})()`

const clearMarksScript = `(function() {
	document.querySelectorAll('[data-fw-opt]').forEach(e => e.removeAttribute('data-fw-opt'));
	return true;
})()`

// cleanup dismisses any dropdown state an attempt left behind: cancel key,
// click-away at a varied position, then force-hide plus blur. Failures
// here are logged and swallowed; they must never mask the selection
// result. Runs even when the attempt's context is already canceled.
func (e *Engine) cleanup(ctx context.Context, frameID, target, selector string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := e.page.Press(cctx, frameID, "", "Escape"); err != nil {
		e.logger.Debug("Cleanup escape failed", zap.Error(err))
	}

	var visible bool
	if err := e.page.Evaluate(cctx, frameID, containersVisibleScript, &visible); err != nil {
		e.logger.Debug("Cleanup visibility check failed", zap.Error(err))
		return
	}
	if !visible {
		_ = e.page.Evaluate(cctx, frameID, clearMarksScript, nil)
		return
	}

	// Vary the click-away position per widget so the dismissal itself
	// does not become a uniform signature.
	off := rotationOffset(target, selector, 180)
	if err := e.page.ClickAt(cctx, float64(8+off), float64(8+(off%61))); err != nil {
		e.logger.Debug("Cleanup click-away failed", zap.Error(err))
	}

	visible = false
	if err := e.page.Evaluate(cctx, frameID, containersVisibleScript, &visible); err == nil && !visible {
		_ = e.page.Evaluate(cctx, frameID, clearMarksScript, nil)
		return
	}

	if err := e.page.Evaluate(cctx, frameID, forceHideScript, nil); err != nil {
		e.logger.Debug("Cleanup force-hide failed", zap.Error(err))
	}
	if err := e.page.Blur(cctx, frameID); err != nil {
		e.logger.Debug("Cleanup blur failed", zap.Error(err))
	}
}
