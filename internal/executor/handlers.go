// internal/executor/handlers.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/driver"
	"github.com/kilravok/formweaver/internal/dropdown"
	"github.com/kilravok/formweaver/internal/match"
)

// dispatch routes the instruction to the handler for its field type. Each
// handler applies the value and verifies the observable outcome before
// reporting success.
func (x *Executor) dispatch(ctx context.Context, frameID, selector string, action ActionContext, result *InteractionResult) error {
	switch action.FieldType {
	case FieldText, FieldTextarea:
		return x.applyText(ctx, frameID, selector, action.TargetValue, result)
	case FieldCheckbox, FieldRadio:
		return x.applyChecked(ctx, frameID, selector, action, result)
	case FieldFile:
		return x.applyFiles(ctx, frameID, selector, action)
	case FieldSelect, FieldTypeahead:
		return x.applySelection(ctx, frameID, selector, action.TargetValue, result)
	default:
		return fmt.Errorf("%w: unsupported field type %q", ErrActionExecutionFailed, action.FieldType)
	}
}

// applyText fills a text-like input and verifies the resulting value is a
// close enough match to the target.
func (x *Executor) applyText(ctx context.Context, frameID, selector, target string, result *InteractionResult) error {
	if err := x.page.Fill(ctx, frameID, selector, target); err != nil {
		return wrapExec("fill", err)
	}
	observed, err := x.page.Value(ctx, frameID, selector)
	if err != nil {
		return wrapExec("read value back", err)
	}
	score := match.Similarity(target, observed)
	result.Details["verify_score"] = score
	if score < x.cfg.VerificationThreshold {
		return fmt.Errorf("%w: wrote %q, observed %q (score %.2f < %.2f)",
			ErrVerificationFailed, target, observed, score, x.cfg.VerificationThreshold)
	}
	return nil
}

// applyChecked drives checkboxes and radio buttons and verifies the
// checked state took.
func (x *Executor) applyChecked(ctx context.Context, frameID, selector string, action ActionContext, result *InteractionResult) error {
	desired := desiredChecked(action)
	if err := x.page.SetChecked(ctx, frameID, selector, desired); err != nil {
		return wrapExec("set checked", err)
	}

	var observed bool
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		return !!(el && el.checked);
	})(%s)`, jsQuote(selector))
	if err := x.page.Evaluate(ctx, frameID, expr, &observed); err != nil {
		return wrapExec("read checked state", err)
	}
	result.Details["checked"] = observed
	if observed != desired {
		return fmt.Errorf("%w: wanted checked=%t, observed %t", ErrVerificationFailed, desired, observed)
	}
	return nil
}

// desiredChecked interprets the target value as a checked state. Radios
// default to checked: the instruction names the one button to pick.
func desiredChecked(action ActionContext) bool {
	switch strings.ToLower(strings.TrimSpace(action.TargetValue)) {
	case "false", "no", "0", "off", "unchecked":
		return false
	case "":
		return action.FieldType == FieldRadio
	default:
		return true
	}
}

// applyFiles attaches files to a file input and verifies at least one file
// is registered afterward.
func (x *Executor) applyFiles(ctx context.Context, frameID, selector string, action ActionContext) error {
	files := action.Values
	if len(files) == 0 && action.TargetValue != "" {
		files = []string{action.TargetValue}
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no file paths supplied", ErrActionExecutionFailed)
	}
	if err := x.page.SetFiles(ctx, frameID, selector, files); err != nil {
		return wrapExec("set files", err)
	}

	var attached bool
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		return !!(el && el.files && el.files.length > 0);
	})(%s)`, jsQuote(selector))
	if err := x.page.Evaluate(ctx, frameID, expr, &attached); err != nil {
		return wrapExec("inspect file input", err)
	}
	if !attached {
		return fmt.Errorf("%w: file input reports no attached files", ErrVerificationFailed)
	}
	return nil
}

// applySelection delegates to the dropdown engine and verifies the
// displayed result against the stricter selection threshold: a
// wrong-but-plausible option is worse than an obvious failure.
func (x *Executor) applySelection(ctx context.Context, frameID, selector, target string, result *InteractionResult) error {
	chosen, err := x.dropdown.SelectValue(ctx, frameID, selector, target)
	if err != nil {
		if errors.Is(err, dropdown.ErrNoMatch) {
			return fmt.Errorf("%w: %v", ErrActionExecutionFailed, err)
		}
		return wrapExec("selection", err)
	}
	result.Details["selected_option"] = chosen.Text

	observed, err := x.page.Value(ctx, frameID, selector)
	if err != nil {
		return wrapExec("read selection back", err)
	}
	// The widget may display either the option text or the raw value;
	// accept whichever the match was made against.
	score := match.Similarity(observed, chosen.Text)
	if s := match.Similarity(observed, target); s > score {
		score = s
	}
	result.Details["verify_score"] = score
	if score < x.cfg.SelectVerifyThreshold {
		x.logger.Debug("Selection verification below threshold",
			zap.String("observed", observed),
			zap.String("expected", chosen.Text),
			zap.Float64("score", score))
		return fmt.Errorf("%w: selected %q, observed %q (score %.2f < %.2f)",
			ErrVerificationFailed, chosen.Text, observed, score, x.cfg.SelectVerifyThreshold)
	}
	return nil
}

// wrapExec classifies a driver failure as an execution error while
// letting page loss keep its identity.
func wrapExec(op string, err error) error {
	if errors.Is(err, driver.ErrPageLost) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrActionExecutionFailed, op, err)
}

// jsQuote encodes a string as a single-quoted JS literal.
func jsQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
