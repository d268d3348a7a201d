// internal/driver/chrome.go
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

const isolatedWorldName = "formweaver_world"

// ChromePage drives one Chrome tab over CDP. Frame-scoped operations run
// inside per-frame isolated worlds so that page scripts cannot interfere
// with the engine's own evaluation.
type ChromePage struct {
	ctx    context.Context
	logger *zap.Logger

	mu sync.Mutex
	// worlds caches frame id -> isolated world execution context. Entries
	// go stale on navigation; lookups recreate them once on failure.
	worlds map[string]runtime.ExecutionContextID
}

var _ Page = (*ChromePage)(nil)

// NewChromePage wraps an existing chromedp context. The caller owns the
// allocator and context lifetime; closing them invalidates the page.
func NewChromePage(ctx context.Context, logger *zap.Logger) *ChromePage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromePage{
		ctx:    ctx,
		logger: logger.Named("driver"),
		worlds: make(map[string]runtime.ExecutionContextID),
	}
}

// run executes chromedp actions against the tab while honoring the
// caller's context for cancellation. The chromedp context carries the
// target; the caller context carries the deadline.
func (c *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	err := chromedp.Run(tctx, actions...)
	close(done)

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && c.ctx.Err() != nil {
		return ErrPageLost
	}
	return err
}

// Navigate implements Page.
func (c *ChromePage) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("Navigating", zap.String("url", url))
	err := c.run(ctx, chromedp.Navigate(url))
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	// The whole frame tree is new; all cached worlds are stale.
	c.mu.Lock()
	c.worlds = make(map[string]runtime.ExecutionContextID)
	c.mu.Unlock()
	return nil
}

// Frames implements Page by flattening the CDP frame tree breadth-first.
func (c *ChromePage) Frames(ctx context.Context) ([]FrameInfo, error) {
	var infos []FrameInfo
	err := c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		tree, err := page.GetFrameTree().Do(cctx)
		if err != nil {
			return err
		}
		queue := []*page.FrameTree{tree}
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			if node == nil || node.Frame == nil {
				continue
			}
			infos = append(infos, FrameInfo{
				ID:       string(node.Frame.ID),
				ParentID: string(node.Frame.ParentID),
				URL:      node.Frame.URL,
				Name:     node.Frame.Name,
			})
			queue = append(queue, node.ChildFrames...)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("frame tree enumeration failed: %w", err)
	}
	return infos, nil
}

// FrameOwnerAttributes implements Page.
func (c *ChromePage) FrameOwnerAttributes(ctx context.Context, frameID string) (map[string]string, error) {
	attrs := make(map[string]string)
	err := c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		backendID, _, err := dom.GetFrameOwner(cdp.FrameID(frameID)).Do(cctx)
		if err != nil {
			return err
		}
		node, err := dom.DescribeNode().WithBackendNodeID(backendID).Do(cctx)
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(node.Attributes); i += 2 {
			attrs[node.Attributes[i]] = node.Attributes[i+1]
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("frame owner lookup failed for %q: %w", frameID, err)
	}
	return attrs, nil
}

// world returns the isolated world execution context for a frame,
// creating it on first use.
func (c *ChromePage) world(cctx context.Context, frameID string) (runtime.ExecutionContextID, error) {
	c.mu.Lock()
	if id, ok := c.worlds[frameID]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	fid := frameID
	if fid == MainFrame {
		tree, err := page.GetFrameTree().Do(cctx)
		if err != nil {
			return 0, err
		}
		fid = string(tree.Frame.ID)
	}
	id, err := page.CreateIsolatedWorld(cdp.FrameID(fid)).
		WithWorldName(isolatedWorldName).
		Do(cctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.worlds[frameID] = id
	c.mu.Unlock()
	return id, nil
}

// dropWorld forgets a cached execution context after a failed evaluation.
func (c *ChromePage) dropWorld(frameID string) {
	c.mu.Lock()
	delete(c.worlds, frameID)
	c.mu.Unlock()
}

// evaluate runs an expression in the frame's isolated world, retrying once
// with a fresh world if the cached context has been destroyed (which
// happens whenever the frame navigates).
func (c *ChromePage) evaluate(ctx context.Context, frameID, expr string, out any) error {
	eval := func(cctx context.Context) error {
		worldID, err := c.world(cctx, frameID)
		if err != nil {
			return err
		}
		res, exc, err := runtime.Evaluate(expr).
			WithContextID(worldID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("evaluation exception: %s", exc.Text)
		}
		if out != nil && res != nil && res.Value != nil {
			return json.Unmarshal(res.Value, out)
		}
		return nil
	}

	err := c.run(ctx, chromedp.ActionFunc(eval))
	if err != nil && isStaleContextErr(err) {
		c.dropWorld(frameID)
		err = c.run(ctx, chromedp.ActionFunc(eval))
	}
	return err
}

func isStaleContextErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Cannot find context") ||
		strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Inspected target navigated or closed")
}

// Evaluate implements Page.
func (c *ChromePage) Evaluate(ctx context.Context, frameID, expr string, out any) error {
	return c.evaluate(ctx, frameID, expr, out)
}

// Count implements Page.
func (c *ChromePage) Count(ctx context.Context, frameID, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := c.evaluate(ctx, frameID, expr, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Click implements Page.
func (c *ChromePage) Click(ctx context.Context, frameID, selector string) error {
	var ok bool
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollIntoView({block: 'center', inline: 'center'});
		el.click();
		return true;
	})(%s)`, jsString(selector))
	if err := c.evaluate(ctx, frameID, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("click target %q not found", selector)
	}
	return nil
}

// ClickAt implements Page.
func (c *ChromePage) ClickAt(ctx context.Context, x, y float64) error {
	return c.run(ctx, chromedp.MouseClickXY(x, y))
}

// Fill implements Page. The value is set directly and followed by
// synthetic input/change events; setting .value alone is invisible to
// React-style frameworks.
func (c *ChromePage) Fill(ctx context.Context, frameID, selector, value string) error {
	var ok bool
	expr := fmt.Sprintf(`(function(sel, val) {
		const el = document.querySelector(sel);
		if (!el || el.disabled || el.readOnly) return false;
		el.focus();
		el.value = val;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})(%s, %s)`, jsString(selector), jsString(value))
	if err := c.evaluate(ctx, frameID, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("fill target %q not found or not writable", selector)
	}
	return nil
}

// Type implements Page. Unlike Fill, each rune is dispatched as a real key
// event so typeahead widgets observe keystrokes.
func (c *ChromePage) Type(ctx context.Context, frameID, selector, text string) error {
	if err := c.focus(ctx, frameID, selector); err != nil {
		return err
	}
	return c.run(ctx, chromedp.KeyEvent(text))
}

// Press implements Page.
func (c *ChromePage) Press(ctx context.Context, frameID, selector, key string) error {
	if selector != "" {
		if err := c.focus(ctx, frameID, selector); err != nil {
			return err
		}
	}
	seq, err := keySequence(key)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.KeyEvent(seq))
}

// keySequence maps a DOM key name to the chromedp/kb rune sequence.
func keySequence(key string) (string, error) {
	switch key {
	case "Enter":
		return kb.Enter, nil
	case "Tab":
		return kb.Tab, nil
	case "Escape":
		return kb.Escape, nil
	case "ArrowDown":
		return kb.ArrowDown, nil
	case "ArrowUp":
		return kb.ArrowUp, nil
	case "Backspace":
		return kb.Backspace, nil
	default:
		if len(key) == 1 {
			return key, nil
		}
		return "", fmt.Errorf("unsupported key %q", key)
	}
}

func (c *ChromePage) focus(ctx context.Context, frameID, selector string) error {
	var ok bool
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.scrollIntoView({block: 'center'});
		el.focus();
		return document.activeElement === el;
	})(%s)`, jsString(selector))
	if err := c.evaluate(ctx, frameID, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not focus %q", selector)
	}
	return nil
}

// SetChecked implements Page.
func (c *ChromePage) SetChecked(ctx context.Context, frameID, selector string, checked bool) error {
	var ok bool
	expr := fmt.Sprintf(`(function(sel, want) {
		const el = document.querySelector(sel);
		if (!el || el.disabled) return false;
		if (el.checked !== want) {
			el.click();
			if (el.checked !== want) {
				el.checked = want;
				el.dispatchEvent(new Event('change', { bubbles: true }));
			}
		}
		return el.checked === want;
	})(%s, %t)`, jsString(selector), checked)
	if err := c.evaluate(ctx, frameID, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not set checked state on %q", selector)
	}
	return nil
}

// SelectByValue implements Page.
func (c *ChromePage) SelectByValue(ctx context.Context, frameID, selector, value string) error {
	return c.selectOption(ctx, frameID, selector, value, "value")
}

// SelectByLabel implements Page.
func (c *ChromePage) SelectByLabel(ctx context.Context, frameID, selector, label string) error {
	return c.selectOption(ctx, frameID, selector, label, "label")
}

func (c *ChromePage) selectOption(ctx context.Context, frameID, selector, want, by string) error {
	var ok bool
	expr := fmt.Sprintf(`(function(sel, want, by) {
		const el = document.querySelector(sel);
		if (!el || el.tagName !== 'SELECT') return false;
		for (const opt of el.options) {
			const key = by === 'value' ? opt.value : opt.text.trim();
			if (key === want) {
				el.value = opt.value;
				el.dispatchEvent(new Event('input', { bubbles: true }));
				el.dispatchEvent(new Event('change', { bubbles: true }));
				return true;
			}
		}
		return false;
	})(%s, %s, %s)`, jsString(selector), jsString(want), jsString(by))
	if err := c.evaluate(ctx, frameID, expr, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no option matching %q (%s) in %q", want, by, selector)
	}
	return nil
}

// SetFiles implements Page. The element is resolved in the frame's world,
// converted to a DOM node id, and fed to DOM.setFileInputFiles.
func (c *ChromePage) SetFiles(ctx context.Context, frameID, selector string, files []string) error {
	return c.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		worldID, err := c.world(cctx, frameID)
		if err != nil {
			return err
		}
		res, exc, err := runtime.Evaluate(fmt.Sprintf(`document.querySelector(%s)`, jsString(selector))).
			WithContextID(worldID).
			Do(cctx)
		if err != nil {
			return err
		}
		if exc != nil || res == nil || res.ObjectID == "" {
			return fmt.Errorf("file input %q not found", selector)
		}
		nodeID, err := dom.RequestNode(res.ObjectID).Do(cctx)
		if err != nil {
			return err
		}
		return dom.SetFileInputFiles(files).WithNodeID(nodeID).Do(cctx)
	}))
}

// Value implements Page.
func (c *ChromePage) Value(ctx context.Context, frameID, selector string) (string, error) {
	var v string
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return null;
		if (el.tagName === 'SELECT') {
			const opt = el.selectedOptions && el.selectedOptions[0];
			return opt ? opt.text.trim() : el.value;
		}
		return el.value !== undefined ? String(el.value) : (el.textContent || '').trim();
	})(%s)`, jsString(selector))
	if err := c.evaluate(ctx, frameID, expr, &v); err != nil {
		return "", err
	}
	return v, nil
}

// Text implements Page.
func (c *ChromePage) Text(ctx context.Context, frameID, selector string) (string, error) {
	var v string
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		return el ? (el.textContent || '').trim() : '';
	})(%s)`, jsString(selector))
	if err := c.evaluate(ctx, frameID, expr, &v); err != nil {
		return "", err
	}
	return v, nil
}

// OuterHTML implements Page.
func (c *ChromePage) OuterHTML(ctx context.Context, frameID, selector string) (string, error) {
	var v string
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		return el ? el.outerHTML : '';
	})(%s)`, jsString(selector))
	if err := c.evaluate(ctx, frameID, expr, &v); err != nil {
		return "", err
	}
	return v, nil
}

// WaitVisible implements Page by polling the layout box. chromedp's own
// WaitVisible cannot target a child frame's isolated world, so this stays
// on the generic evaluate path.
func (c *ChromePage) WaitVisible(ctx context.Context, frameID, selector string, timeout time.Duration) error {
	expr := fmt.Sprintf(`(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})(%s)`, jsString(selector))

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var visible bool
		if err := c.evaluate(ctx, frameID, expr, &visible); err != nil {
			return err
		}
		if visible {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %v waiting for %q to become visible", timeout, selector)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Blur implements Page.
func (c *ChromePage) Blur(ctx context.Context, frameID string) error {
	expr := `(function() {
		if (document.activeElement && document.activeElement !== document.body) {
			document.activeElement.blur();
		}
		return true;
	})()`
	return c.evaluate(ctx, frameID, expr, nil)
}

// Alive implements Page.
func (c *ChromePage) Alive(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrPageLost
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var one int
	if err := c.evaluate(probeCtx, MainFrame, `1`, &one); err != nil {
		if errors.Is(err, ErrPageLost) || c.ctx.Err() != nil {
			return ErrPageLost
		}
		return fmt.Errorf("page probe failed: %w", err)
	}
	return nil
}

// jsString encodes a Go string as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
