// internal/locator/stable.go
package locator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// elementProbe is what the in-page extraction script reports about the
// element a stable selector is being derived for.
type elementProbe struct {
	Tag         string            `json:"tag"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Role        string            `json:"role"`
	AriaLabel   string            `json:"ariaLabel"`
	Placeholder string            `json:"placeholder"`
	Text        string            `json:"text"`
	Classes     []string          `json:"classes"`
	TestAttrs   map[string]string `json:"testAttrs"`
	Path        string            `json:"path"`
}

// probeScript extracts candidate selector material for the element the
// seed selector designates, including a structural path anchored at the
// nearest ancestor with an id.
const probeScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return null;
	const testAttrs = {};
	for (const a of ['data-testid', 'data-qa', 'data-cy']) {
		const v = el.getAttribute(a);
		if (v) testAttrs[a] = v;
	}
	const segs = [];
	let cur = el;
	let anchor = '';
	while (cur && cur.nodeType === 1 && cur.tagName !== 'HTML') {
		if (cur !== el && cur.id) {
			anchor = cur.id;
			break;
		}
		const tag = cur.tagName.toLowerCase();
		let nth = 1;
		let sib = cur.previousElementSibling;
		while (sib) {
			if (sib.tagName === cur.tagName) nth++;
			sib = sib.previousElementSibling;
		}
		segs.unshift(tag + ':nth-of-type(' + nth + ')');
		cur = cur.parentElement;
	}
	let path = segs.join(' > ');
	if (anchor) path = "[id='" + anchor.replace(/\\/g, '\\\\').replace(/'/g, "\\'") + "'] > " + path;
	return {
		tag: el.tagName.toLowerCase(),
		id: el.id || '',
		name: el.getAttribute('name') || '',
		role: el.getAttribute('role') || '',
		ariaLabel: el.getAttribute('aria-label') || '',
		placeholder: el.getAttribute('placeholder') || '',
		text: (el.textContent || '').trim().slice(0, 60),
		classes: Array.from(el.classList),
		testAttrs: testAttrs,
		path: path
	};
})(%s)`

// genericClasses never make stable selectors; they describe state or
// layout, not identity.
var genericClasses = map[string]struct{}{
	"active": {}, "selected": {}, "focus": {}, "focused": {}, "open": {},
	"show": {}, "hidden": {}, "visible": {}, "disabled": {}, "enabled": {},
	"container": {}, "wrapper": {}, "row": {}, "col": {}, "item": {},
	"input": {}, "button": {}, "field": {}, "control": {}, "form-control": {},
	"content": {}, "inner": {}, "outer": {}, "left": {}, "right": {},
	"required": {}, "valid": {}, "invalid": {},
}

// GenerateStableSelector derives a durable selector for the element the
// seed selector currently designates. Candidates are tried in priority
// order and each must match exactly one element, which must be the seed
// element itself; the first candidate passing both checks wins.
func (l *Locator) GenerateStableSelector(ctx context.Context, frameID, seed string) (string, error) {
	seed = NormalizeSelector(seed)

	var probe *elementProbe
	expr := fmt.Sprintf(probeScript, quoteJS(seed))
	if err := l.page.Evaluate(ctx, frameID, expr, &probe); err != nil {
		return "", fmt.Errorf("element probe failed: %w", err)
	}
	if probe == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, seed)
	}

	for _, candidate := range l.candidates(probe) {
		ok, err := l.verifyUnique(ctx, frameID, candidate, seed)
		if err != nil {
			return "", err
		}
		if ok {
			l.logger.Debug("Derived stable selector",
				zap.String("seed", seed), zap.String("selector", candidate))
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no unique selector for element at %s", ErrAmbiguous, seed)
}

// candidates builds the ordered selector candidates from probe data. Order
// is: test-id attributes, id, name, role + aria-label, placeholder, a
// non-generic class, structural path.
func (l *Locator) candidates(p *elementProbe) []string {
	var out []string
	for _, attr := range []string{"data-testid", "data-qa", "data-cy"} {
		if v, ok := p.TestAttrs[attr]; ok && v != "" {
			out = append(out, fmt.Sprintf("[%s=%s]", attr, quoteAttr(v)))
		}
	}
	if p.ID != "" {
		if safeCSSIdentifier(p.ID) {
			out = append(out, "#"+p.ID)
		} else {
			out = append(out, fmt.Sprintf("[id=%s]", quoteAttr(p.ID)))
		}
	}
	if p.Name != "" {
		out = append(out, fmt.Sprintf("%s[name=%s]", p.Tag, quoteAttr(p.Name)))
	}
	if p.Role != "" && p.AriaLabel != "" && len(p.AriaLabel) <= 60 {
		out = append(out, fmt.Sprintf("[role=%s][aria-label=%s]", quoteAttr(p.Role), quoteAttr(p.AriaLabel)))
	}
	if p.Placeholder != "" {
		out = append(out, fmt.Sprintf("%s[placeholder=%s]", p.Tag, quoteAttr(p.Placeholder)))
	}
	if cls := firstSpecificClass(p.Classes); cls != "" {
		out = append(out, fmt.Sprintf("%s.%s", p.Tag, cls))
	}
	if p.Path != "" {
		out = append(out, p.Path)
	}
	return out
}

// firstSpecificClass picks the first class that looks like identity rather
// than state or build output. Classes with digits are skipped because
// CSS-in-JS hashes churn on every deploy.
func firstSpecificClass(classes []string) string {
	for _, c := range classes {
		if c == "" || len(c) > 40 || strings.ContainsAny(c, "0123456789") {
			continue
		}
		if _, generic := genericClasses[strings.ToLower(c)]; generic {
			continue
		}
		if !safeCSSIdentifier(c) {
			continue
		}
		return c
	}
	return ""
}

// verifyUnique accepts a candidate only if it matches exactly one element
// and that element is the one the seed selector designates.
func (l *Locator) verifyUnique(ctx context.Context, frameID, candidate, seed string) (bool, error) {
	count, err := l.page.Count(ctx, frameID, candidate)
	if err != nil {
		return false, fmt.Errorf("uniqueness check failed: %w", err)
	}
	if count != 1 {
		return false, nil
	}
	var same bool
	expr := fmt.Sprintf(`document.querySelector(%s) === document.querySelector(%s)`,
		quoteJS(candidate), quoteJS(seed))
	if err := l.page.Evaluate(ctx, frameID, expr, &same); err != nil {
		return false, fmt.Errorf("identity check failed: %w", err)
	}
	return same, nil
}

// quoteJS encodes a string as a single-quoted JS literal.
func quoteJS(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return "'" + s + "'"
}
