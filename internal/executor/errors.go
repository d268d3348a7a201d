// internal/executor/errors.go
package executor

import (
	"errors"

	"github.com/kilravok/formweaver/internal/driver"
	"github.com/kilravok/formweaver/internal/frames"
	"github.com/kilravok/formweaver/internal/locator"
)

// Sentinel errors for the interaction failure taxonomy. Everything the
// engine can go wrong with maps onto one of these; nothing else escapes
// Execute.
var (
	// ErrElementNotFound: selector or frame resolution failed after all
	// fallbacks. Recoverable; callers usually skip the field.
	ErrElementNotFound = errors.New("element not found")
	// ErrAmbiguousSelector: multiple elements matched and no candidate
	// disambiguated. Treated like not-found for retry purposes.
	ErrAmbiguousSelector = errors.New("ambiguous selector")
	// ErrActionExecutionFailed: a driver primitive failed outright.
	ErrActionExecutionFailed = errors.New("action execution failed")
	// ErrVerificationFailed: the action completed but the observed field
	// state does not match the target. Surfaced distinctly so callers can
	// log "applied but wrong value" separately from "could not apply".
	ErrVerificationFailed = errors.New("verification failed")
	// ErrFrameDetached: the frame went away mid-action. Transient.
	ErrFrameDetached = errors.New("frame detached")
)

// Kind labels carried on InteractionResult for callers that switch on
// failure class without unwrapping errors.
const (
	KindElementNotFound    = "element_not_found"
	KindAmbiguousSelector  = "ambiguous_selector"
	KindExecutionFailed    = "action_execution_failed"
	KindVerificationFailed = "verification_failed"
	KindFrameDetached      = "frame_detached"
	KindPageLost           = "page_lost"
)

// classify maps an error to its taxonomy kind.
func classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, driver.ErrPageLost):
		return KindPageLost
	case errors.Is(err, ErrVerificationFailed):
		return KindVerificationFailed
	case errors.Is(err, ErrFrameDetached):
		return KindFrameDetached
	case errors.Is(err, ErrAmbiguousSelector), errors.Is(err, locator.ErrAmbiguous):
		return KindAmbiguousSelector
	case errors.Is(err, ErrElementNotFound), errors.Is(err, locator.ErrNotFound), errors.Is(err, frames.ErrNoFrame):
		return KindElementNotFound
	default:
		return KindExecutionFailed
	}
}

// fatal reports whether the error dooms the whole run rather than one
// field. Only page loss qualifies; retrying fields against a dead page is
// pointless.
func fatal(err error) bool {
	return errors.Is(err, driver.ErrPageLost)
}
