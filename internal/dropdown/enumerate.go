// internal/dropdown/enumerate.go
package dropdown

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// nativeOptionsScript reads a native select's option list in one shot.
const nativeOptionsScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el || el.tagName !== 'SELECT') return null;
	return Array.from(el.options).map(o => ({
		text: o.text.trim(),
		value: o.value,
		selected: o.selected
	}));
})(%s)`

// scanScript finds visible option-like elements after a widget has been
// opened. Each hit is tagged with a data-fw-opt attribute so it can be
// clicked later by a plain selector; cleanup strips the tags.
const scanScript = `(function() {
	const patterns = [
		"[role='option']",
		".dropdown-item",
		".select-option",
		".autocomplete-item",
		".autocomplete-suggestion",
		"[role='listbox'] li",
		".dropdown-menu li",
		"ul li"
	];
	document.querySelectorAll('[data-fw-opt]').forEach(e => e.removeAttribute('data-fw-opt'));
	const seen = new Set();
	const out = [];
	let i = 0;
	for (const p of patterns) {
		for (const el of document.querySelectorAll(p)) {
			if (seen.has(el)) continue;
			const r = el.getBoundingClientRect();
			if (r.width === 0 || r.height === 0) continue;
			const text = (el.textContent || '').trim();
			if (!text || text.length > 120) continue;
			seen.add(el);
			el.setAttribute('data-fw-opt', String(i));
			out.push({ text: text, index: i });
			i++;
		}
	}
	return out;
})()`

// frameworkScrapeScript collects the markup of option containers rendered
// by common third-party select components, visible or not.
const frameworkScrapeScript = `(function() {
	const containers = [
		".select2-results",
		".chosen-results",
		".Select-menu-outer",
		"[class*='react-select'][class*='menu']",
		"[class*='MuiAutocomplete-popper']",
		".ui-autocomplete",
		"[class*='typeahead'][class*='menu']"
	];
	const out = [];
	for (const p of containers) {
		for (const el of document.querySelectorAll(p)) {
			out.push(el.outerHTML);
		}
	}
	return out;
})()`

type scannedOption struct {
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// enumerate gathers the widget's options, trying each technique until one
// yields a non-empty list: the native option list, a momentary
// open-then-scan of visible option-likes, and a scrape of framework
// component containers. native reports whether the widget is a real
// <select>.
func (e *Engine) enumerate(ctx context.Context, frameID, selector string) (native bool, options []Option, err error) {
	options, err = e.nativeOptions(ctx, frameID, selector)
	if err != nil {
		return false, nil, err
	}
	if options != nil {
		return true, options, nil
	}

	options, err = e.openAndScan(ctx, frameID, selector)
	if err != nil {
		return false, nil, err
	}
	if len(options) > 0 {
		return false, options, nil
	}

	options, err = e.scrapeFramework(ctx, frameID)
	if err != nil {
		return false, nil, err
	}
	if len(options) > 0 {
		return false, options, nil
	}
	return false, nil, fmt.Errorf("%w: no options could be enumerated for %s", ErrNoMatch, selector)
}

// nativeOptions returns the option list for a native select, or nil when
// the element is not a select at all.
func (e *Engine) nativeOptions(ctx context.Context, frameID, selector string) ([]Option, error) {
	var raw []struct {
		Text     string `json:"text"`
		Value    string `json:"value"`
		Selected bool   `json:"selected"`
	}
	expr := fmt.Sprintf(nativeOptionsScript, jsQuote(selector))
	if err := e.page.Evaluate(ctx, frameID, expr, &raw); err != nil {
		return nil, fmt.Errorf("native option enumeration failed: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	options := make([]Option, 0, len(raw))
	for _, o := range raw {
		options = append(options, Option{Text: o.Text, Value: o.Value, Selected: o.Selected})
	}
	return options, nil
}

// openAndScan clicks the widget open, waits briefly for the option list to
// render, and harvests whatever visible option-like elements appeared.
func (e *Engine) openAndScan(ctx context.Context, frameID, selector string) ([]Option, error) {
	if err := e.page.Click(ctx, frameID, selector); err != nil {
		e.logger.Debug("Open click failed", zap.String("selector", selector), zap.Error(err))
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(openWait):
	}
	return e.scanVisible(ctx, frameID)
}

// scanVisible runs the visible-option scan and converts the tagged hits.
func (e *Engine) scanVisible(ctx context.Context, frameID string) ([]Option, error) {
	var scanned []scannedOption
	if err := e.page.Evaluate(ctx, frameID, scanScript, &scanned); err != nil {
		return nil, fmt.Errorf("option scan failed: %w", err)
	}
	options := make([]Option, 0, len(scanned))
	for _, s := range scanned {
		options = append(options, Option{
			Text:           s.Text,
			SourceSelector: fmt.Sprintf("[data-fw-opt='%d']", s.Index),
		})
	}
	return options, nil
}

// scrapeFramework pulls the markup of known framework option containers
// and parses the option texts out of it. These options carry no clickable
// selector; the keyboard gesture handles them.
func (e *Engine) scrapeFramework(ctx context.Context, frameID string) ([]Option, error) {
	var htmls []string
	if err := e.page.Evaluate(ctx, frameID, frameworkScrapeScript, &htmls); err != nil {
		return nil, fmt.Errorf("framework scrape failed: %w", err)
	}
	var options []Option
	seen := make(map[string]struct{})
	for _, markup := range htmls {
		for _, text := range optionTextsFromMarkup(markup) {
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			options = append(options, Option{Text: text})
		}
	}
	return options, nil
}

// optionTextsFromMarkup extracts candidate option texts from a scraped
// container: the text of li elements, role=option elements, and leaf divs.
func optionTextsFromMarkup(markup string) []string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var texts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isOptionNode(n) {
			if t := nodeText(n); t != "" && len(t) <= 120 {
				texts = append(texts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return texts
}

func isOptionNode(n *html.Node) bool {
	if n.Data == "li" || n.Data == "option" {
		return true
	}
	for _, a := range n.Attr {
		if a.Key == "role" && a.Val == "option" {
			return true
		}
	}
	// Leaf divs/spans inside result containers are options in several
	// component libraries.
	if (n.Data == "div" || n.Data == "span") && !hasElementChild(n) {
		return true
	}
	return false
}

func hasElementChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// jsQuote encodes a string as a single-quoted JS literal.
func jsQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
