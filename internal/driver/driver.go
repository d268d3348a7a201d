// internal/driver/driver.go
// Package driver defines the browser control primitive surface the form
// interaction engine is built on, and provides a chromedp-backed
// implementation of it. The engine packages depend only on the Page
// interface; they never manage browser process lifetime themselves.
package driver

import (
	"context"
	"errors"
	"time"
)

// ErrPageLost reports that the underlying page or browser target is gone.
// This is the only failure the engine treats as fatal to a whole run:
// retrying individual fields against a dead page is pointless.
var ErrPageLost = errors.New("browser page handle lost")

// MainFrame is the frame identifier for the top-level document. An empty
// frame id passed to any Page method is treated the same way.
const MainFrame = ""

// FrameInfo describes one node of the page's frame tree as reported by the
// browser. IDs are browser-assigned and only valid until the next
// navigation.
type FrameInfo struct {
	ID       string
	ParentID string
	URL      string
	Name     string
}

// Page is the black-box primitive surface of one browser page. All methods
// take a frame id ("" for the main frame) and are expected to be called
// from a single logical thread of control; implementations do not need to
// support concurrent calls against the same page.
type Page interface {
	// Navigate loads the URL in the main frame and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// Frames returns a snapshot of the current frame tree, parents before
	// children.
	Frames(ctx context.Context) ([]FrameInfo, error)

	// FrameOwnerAttributes returns the attributes of the <iframe> element
	// that owns the given frame (id, name, src, title, class when present).
	FrameOwnerAttributes(ctx context.Context, frameID string) (map[string]string, error)

	// Count reports how many elements match the selector inside the frame.
	Count(ctx context.Context, frameID, selector string) (int, error)

	// Click scrolls the first match into view and clicks it.
	Click(ctx context.Context, frameID, selector string) error

	// ClickAt dispatches a raw mouse click at viewport coordinates. Used
	// for click-away dropdown dismissal where no element is targeted.
	ClickAt(ctx context.Context, x, y float64) error

	// Fill sets the value of an input-like element directly and dispatches
	// input/change events so reactive frameworks observe the update.
	Fill(ctx context.Context, frameID, selector, value string) error

	// Type focuses the element and sends individual keystrokes, appending
	// to whatever is already there. Used by typeahead gestures that need
	// the widget to see real key events.
	Type(ctx context.Context, frameID, selector, text string) error

	// Press sends a single named key (e.g. "Escape", "ArrowDown", "Enter")
	// to the element after focusing it.
	Press(ctx context.Context, frameID, selector, key string) error

	// SetChecked forces the checked state of a checkbox or radio input.
	SetChecked(ctx context.Context, frameID, selector string, checked bool) error

	// SelectByValue selects the <option> whose value attribute matches.
	SelectByValue(ctx context.Context, frameID, selector, value string) error

	// SelectByLabel selects the <option> whose visible text matches.
	SelectByLabel(ctx context.Context, frameID, selector, label string) error

	// SetFiles attaches local file paths to a file input.
	SetFiles(ctx context.Context, frameID, selector string, files []string) error

	// Value returns the current value of an input-like element, or the
	// selected option's value for a <select>.
	Value(ctx context.Context, frameID, selector string) (string, error)

	// Text returns the trimmed text content of the first match.
	Text(ctx context.Context, frameID, selector string) (string, error)

	// OuterHTML returns the serialized outer HTML of the first match.
	OuterHTML(ctx context.Context, frameID, selector string) (string, error)

	// Evaluate runs a JavaScript expression in the frame's context and
	// unmarshals the JSON result into out (which may be nil).
	Evaluate(ctx context.Context, frameID, expr string, out any) error

	// WaitVisible blocks until the selector matches at least one element
	// with a non-zero bounding box, or the timeout elapses.
	WaitVisible(ctx context.Context, frameID, selector string, timeout time.Duration) error

	// Blur removes focus from whatever element currently holds it.
	Blur(ctx context.Context, frameID string) error

	// Alive probes whether the page target still responds. Returns
	// ErrPageLost when it does not.
	Alive(ctx context.Context) error
}
