// internal/locator/locator.go
// Package locator resolves instruction selectors to live elements and
// derives durable selectors from volatile DOM structure. Everything here
// speaks plain querySelector CSS; selectors that cannot be expressed that
// way (raw visible text) fall through to a structural path.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/driver"
)

var (
	// ErrNotFound reports that no selector variant matched any element.
	ErrNotFound = errors.New("no element matched the selector")
	// ErrAmbiguous reports that every matching variant matched more than
	// one element. Callers treat it like ErrNotFound for retry purposes.
	ErrAmbiguous = errors.New("selector is ambiguous")
)

// Locator performs selector resolution and generation within frames.
type Locator struct {
	page   driver.Page
	logger *zap.Logger
}

// New builds a Locator over the given page.
func New(page driver.Page, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{page: page, logger: logger.Named("locator")}
}

// NormalizeSelector rewrites id selectors that are invalid CSS identifiers
// (leading digit, embedded punctuation) into attribute-equality form.
// `#123-field` becomes `[id='123-field']`: attribute selectors are always
// valid, while CSS identifier escaping is easy to get subtly wrong.
func NormalizeSelector(selector string) string {
	selector = strings.TrimSpace(selector)
	if !strings.HasPrefix(selector, "#") {
		return selector
	}
	id := selector[1:]
	rest := ""
	// Only the leading simple id token is rewritten; descendant parts and
	// pseudo-classes are left alone.
	if i := strings.IndexAny(id, " >+~"); i >= 0 {
		id, rest = id[:i], id[i:]
	}
	if id == "" || safeCSSIdentifier(id) {
		return selector
	}
	return fmt.Sprintf("[id=%s]%s", quoteAttr(id), rest)
}

// safeCSSIdentifier reports whether s can appear after '#' without
// escaping.
func safeCSSIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	// A leading hyphen followed by a digit is also invalid.
	return !(len(s) >= 2 && s[0] == '-' && s[1] >= '0' && s[1] <= '9')
}

// quoteAttr single-quotes an attribute value for use in a selector.
func quoteAttr(v string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(v, `\`, `\\`), "'", `\'`) + "'"
}

// Resolve locates an element for the selector inside the frame and returns
// the concrete selector that matched exactly one element. The primary
// selector is normalized first; on failure a fixed set of alternatives is
// tried in order.
func (l *Locator) Resolve(ctx context.Context, frameID, selector string) (string, error) {
	primary := NormalizeSelector(selector)
	sawAmbiguous := false

	for _, candidate := range append([]string{primary}, alternatives(primary)...) {
		count, err := l.page.Count(ctx, frameID, candidate)
		if err != nil {
			return "", fmt.Errorf("selector query failed: %w", err)
		}
		switch {
		case count == 1:
			if candidate != primary {
				l.logger.Debug("Selector resolved via fallback",
					zap.String("primary", primary),
					zap.String("fallback", candidate))
			}
			return candidate, nil
		case count > 1:
			sawAmbiguous = true
			l.logger.Debug("Selector matched multiple elements",
				zap.String("selector", candidate), zap.Int("count", count))
		}
	}

	if sawAmbiguous {
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, selector)
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
}

// alternatives derives the fallback selectors for a failed primary:
// name attribute, data-id attribute, role-qualified id, and for
// multi-token selectors the last token alone.
func alternatives(primary string) []string {
	var alts []string
	if key := idValue(primary); key != "" {
		alts = append(alts,
			fmt.Sprintf("[name=%s]", quoteAttr(key)),
			fmt.Sprintf("[data-id=%s]", quoteAttr(key)),
			fmt.Sprintf("[id=%s][role]", quoteAttr(key)),
		)
	}
	if fields := strings.Fields(primary); len(fields) > 1 {
		last := fields[len(fields)-1]
		if last != primary && last != ">" && last != "+" && last != "~" {
			alts = append(alts, last)
		}
	}
	return alts
}

// idValue extracts the id an id-style selector targets, or "".
func idValue(selector string) string {
	if strings.HasPrefix(selector, "#") && !strings.ContainsAny(selector, " >+~") {
		return selector[1:]
	}
	if strings.HasPrefix(selector, "[id='") && strings.HasSuffix(selector, "']") {
		return selector[len("[id='") : len(selector)-2]
	}
	return ""
}
