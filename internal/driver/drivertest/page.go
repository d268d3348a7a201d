// internal/driver/drivertest/page.go
// Package drivertest provides a scriptable in-memory Page implementation
// for engine tests. Behavior is injected per method via function fields;
// anything left nil succeeds with zero values. Every call is appended to
// Calls so tests can assert on interaction order.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilravok/formweaver/internal/driver"
)

// FakePage implements driver.Page.
type FakePage struct {
	mu    sync.Mutex
	Calls []string

	FramesFn              func(ctx context.Context) ([]driver.FrameInfo, error)
	FrameOwnerAttributesFn func(ctx context.Context, frameID string) (map[string]string, error)
	CountFn               func(ctx context.Context, frameID, selector string) (int, error)
	ClickFn               func(ctx context.Context, frameID, selector string) error
	ClickAtFn             func(ctx context.Context, x, y float64) error
	FillFn                func(ctx context.Context, frameID, selector, value string) error
	TypeFn                func(ctx context.Context, frameID, selector, text string) error
	PressFn               func(ctx context.Context, frameID, selector, key string) error
	SetCheckedFn          func(ctx context.Context, frameID, selector string, checked bool) error
	SelectByValueFn       func(ctx context.Context, frameID, selector, value string) error
	SelectByLabelFn       func(ctx context.Context, frameID, selector, label string) error
	SetFilesFn            func(ctx context.Context, frameID, selector string, files []string) error
	ValueFn               func(ctx context.Context, frameID, selector string) (string, error)
	TextFn                func(ctx context.Context, frameID, selector string) (string, error)
	OuterHTMLFn           func(ctx context.Context, frameID, selector string) (string, error)
	EvaluateFn            func(ctx context.Context, frameID, expr string, out any) error
	WaitVisibleFn         func(ctx context.Context, frameID, selector string, timeout time.Duration) error
	BlurFn                func(ctx context.Context, frameID string) error
	AliveFn               func(ctx context.Context) error
	NavigateFn            func(ctx context.Context, url string) error
}

var _ driver.Page = (*FakePage)(nil)

func (f *FakePage) record(format string, args ...any) {
	f.mu.Lock()
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// CallLog returns a copy of all recorded calls.
func (f *FakePage) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	copy(out, f.Calls)
	return out
}

func (f *FakePage) Navigate(ctx context.Context, url string) error {
	f.record("Navigate %s", url)
	if f.NavigateFn != nil {
		return f.NavigateFn(ctx, url)
	}
	return nil
}

func (f *FakePage) Frames(ctx context.Context) ([]driver.FrameInfo, error) {
	f.record("Frames")
	if f.FramesFn != nil {
		return f.FramesFn(ctx)
	}
	return []driver.FrameInfo{{ID: "F0"}}, nil
}

func (f *FakePage) FrameOwnerAttributes(ctx context.Context, frameID string) (map[string]string, error) {
	f.record("FrameOwnerAttributes %s", frameID)
	if f.FrameOwnerAttributesFn != nil {
		return f.FrameOwnerAttributesFn(ctx, frameID)
	}
	return nil, nil
}

func (f *FakePage) Count(ctx context.Context, frameID, selector string) (int, error) {
	f.record("Count %s %s", frameID, selector)
	if f.CountFn != nil {
		return f.CountFn(ctx, frameID, selector)
	}
	return 0, nil
}

func (f *FakePage) Click(ctx context.Context, frameID, selector string) error {
	f.record("Click %s %s", frameID, selector)
	if f.ClickFn != nil {
		return f.ClickFn(ctx, frameID, selector)
	}
	return nil
}

func (f *FakePage) ClickAt(ctx context.Context, x, y float64) error {
	f.record("ClickAt %.0f,%.0f", x, y)
	if f.ClickAtFn != nil {
		return f.ClickAtFn(ctx, x, y)
	}
	return nil
}

func (f *FakePage) Fill(ctx context.Context, frameID, selector, value string) error {
	f.record("Fill %s %s %s", frameID, selector, value)
	if f.FillFn != nil {
		return f.FillFn(ctx, frameID, selector, value)
	}
	return nil
}

func (f *FakePage) Type(ctx context.Context, frameID, selector, text string) error {
	f.record("Type %s %s %s", frameID, selector, text)
	if f.TypeFn != nil {
		return f.TypeFn(ctx, frameID, selector, text)
	}
	return nil
}

func (f *FakePage) Press(ctx context.Context, frameID, selector, key string) error {
	f.record("Press %s %s %s", frameID, selector, key)
	if f.PressFn != nil {
		return f.PressFn(ctx, frameID, selector, key)
	}
	return nil
}

func (f *FakePage) SetChecked(ctx context.Context, frameID, selector string, checked bool) error {
	f.record("SetChecked %s %s %t", frameID, selector, checked)
	if f.SetCheckedFn != nil {
		return f.SetCheckedFn(ctx, frameID, selector, checked)
	}
	return nil
}

func (f *FakePage) SelectByValue(ctx context.Context, frameID, selector, value string) error {
	f.record("SelectByValue %s %s %s", frameID, selector, value)
	if f.SelectByValueFn != nil {
		return f.SelectByValueFn(ctx, frameID, selector, value)
	}
	return nil
}

func (f *FakePage) SelectByLabel(ctx context.Context, frameID, selector, label string) error {
	f.record("SelectByLabel %s %s %s", frameID, selector, label)
	if f.SelectByLabelFn != nil {
		return f.SelectByLabelFn(ctx, frameID, selector, label)
	}
	return nil
}

func (f *FakePage) SetFiles(ctx context.Context, frameID, selector string, files []string) error {
	f.record("SetFiles %s %s %v", frameID, selector, files)
	if f.SetFilesFn != nil {
		return f.SetFilesFn(ctx, frameID, selector, files)
	}
	return nil
}

func (f *FakePage) Value(ctx context.Context, frameID, selector string) (string, error) {
	f.record("Value %s %s", frameID, selector)
	if f.ValueFn != nil {
		return f.ValueFn(ctx, frameID, selector)
	}
	return "", nil
}

func (f *FakePage) Text(ctx context.Context, frameID, selector string) (string, error) {
	f.record("Text %s %s", frameID, selector)
	if f.TextFn != nil {
		return f.TextFn(ctx, frameID, selector)
	}
	return "", nil
}

func (f *FakePage) OuterHTML(ctx context.Context, frameID, selector string) (string, error) {
	f.record("OuterHTML %s %s", frameID, selector)
	if f.OuterHTMLFn != nil {
		return f.OuterHTMLFn(ctx, frameID, selector)
	}
	return "", nil
}

func (f *FakePage) Evaluate(ctx context.Context, frameID, expr string, out any) error {
	f.record("Evaluate %s", frameID)
	if f.EvaluateFn != nil {
		return f.EvaluateFn(ctx, frameID, expr, out)
	}
	return nil
}

func (f *FakePage) WaitVisible(ctx context.Context, frameID, selector string, timeout time.Duration) error {
	f.record("WaitVisible %s %s", frameID, selector)
	if f.WaitVisibleFn != nil {
		return f.WaitVisibleFn(ctx, frameID, selector, timeout)
	}
	return nil
}

func (f *FakePage) Blur(ctx context.Context, frameID string) error {
	f.record("Blur %s", frameID)
	if f.BlurFn != nil {
		return f.BlurFn(ctx, frameID)
	}
	return nil
}

func (f *FakePage) Alive(ctx context.Context) error {
	f.record("Alive")
	if f.AliveFn != nil {
		return f.AliveFn(ctx)
	}
	return nil
}
