// internal/locator/locator_test.go
package locator

import (
	"context"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/driver/drivertest"
)

func TestNormalizeSelector(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"safe id untouched", "#email-field", "#email-field"},
		{"leading digit rewritten", "#123-field", "[id='123-field']"},
		{"embedded punctuation rewritten", "#user.name", "[id='user.name']"},
		{"colon rewritten", "#form:input", "[id='form:input']"},
		{"leading hyphen digit rewritten", "#-2x", "[id='-2x']"},
		{"descendant part preserved", "#42abc input", "[id='42abc'] input"},
		{"non-id selector untouched", "div.form > input", "div.form > input"},
		{"quote escaped", "#it's", `[id='it\'s']`},
		{"bare hash untouched", "#", "#"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeSelector(tc.in))
		})
	}
}

func TestAlternatives(t *testing.T) {
	alts := alternatives("#email")
	assert.Equal(t, []string{"[name='email']", "[data-id='email']", "[id='email'][role]"}, alts)

	alts = alternatives("[id='123-field']")
	assert.Contains(t, alts, "[name='123-field']")

	alts = alternatives("div.form input")
	assert.Equal(t, []string{"input"}, alts)

	assert.Empty(t, alternatives("div.lonely"))
}

func TestResolvePrimaryHit(t *testing.T) {
	page := &drivertest.FakePage{
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			if selector == "#email" {
				return 1, nil
			}
			return 0, nil
		},
	}
	l := New(page, zap.NewNop())

	got, err := l.Resolve(context.Background(), "F0", "#email")
	require.NoError(t, err)
	assert.Equal(t, "#email", got)
}

func TestResolveFallbackToName(t *testing.T) {
	page := &drivertest.FakePage{
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			if selector == "[name='email']" {
				return 1, nil
			}
			return 0, nil
		},
	}
	l := New(page, zap.NewNop())

	got, err := l.Resolve(context.Background(), "F0", "#email")
	require.NoError(t, err)
	assert.Equal(t, "[name='email']", got)
}

func TestResolveNormalizesBeforeQuerying(t *testing.T) {
	var queried []string
	page := &drivertest.FakePage{
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			queried = append(queried, selector)
			if selector == "[id='123-field']" {
				return 1, nil
			}
			return 0, nil
		},
	}
	l := New(page, nil)

	got, err := l.Resolve(context.Background(), "F0", "#123-field")
	require.NoError(t, err)
	assert.Equal(t, "[id='123-field']", got)
	assert.NotContains(t, queried, "#123-field")
}

func TestResolveNotFound(t *testing.T) {
	l := New(&drivertest.FakePage{}, nil)

	_, err := l.Resolve(context.Background(), "F0", "#missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveAmbiguous(t *testing.T) {
	page := &drivertest.FakePage{
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			if selector == "input" {
				return 4, nil
			}
			return 0, nil
		},
	}
	l := New(page, nil)

	_, err := l.Resolve(context.Background(), "F0", "input")
	assert.ErrorIs(t, err, ErrAmbiguous)
}

// stablePage scripts the probe/identity evaluations and per-selector match
// counts used by GenerateStableSelector tests.
func stablePage(p *elementProbe, counts map[string]int) *drivertest.FakePage {
	return &drivertest.FakePage{
		EvaluateFn: func(ctx context.Context, frameID, expr string, out any) error {
			if pp, ok := out.(**elementProbe); ok {
				*pp = p
				return nil
			}
			if b, ok := out.(*bool); ok {
				*b = true
			}
			return nil
		},
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			return counts[selector], nil
		},
	}
}

func TestGenerateStableSelectorPrefersTestID(t *testing.T) {
	probe := &elementProbe{
		Tag:       "input",
		ID:        "email",
		TestAttrs: map[string]string{"data-testid": "email-input"},
	}
	counts := map[string]int{
		"[data-testid='email-input']": 1,
		"#email":                      1,
	}
	l := New(stablePage(probe, counts), zap.NewNop())

	got, err := l.GenerateStableSelector(context.Background(), "F0", "#email")
	require.NoError(t, err)
	assert.Equal(t, "[data-testid='email-input']", got)
}

func TestGenerateStableSelectorSkipsNonUniqueCandidates(t *testing.T) {
	probe := &elementProbe{
		Tag:     "input",
		Name:    "city",
		Classes: []string{"active", "css-x9y2z", "LocationField"},
	}
	counts := map[string]int{
		"input[name='city']":   3, // repeated per form section
		"input.LocationField":  1,
	}
	l := New(stablePage(probe, counts), nil)

	got, err := l.GenerateStableSelector(context.Background(), "F0", "input")
	require.NoError(t, err)
	assert.Equal(t, "input.LocationField", got)
}

func TestGenerateStableSelectorStructuralFallback(t *testing.T) {
	probe := &elementProbe{
		Tag:  "input",
		Path: "[id='section'] > div:nth-of-type(2) > input:nth-of-type(1)",
	}
	counts := map[string]int{probe.Path: 1}
	l := New(stablePage(probe, counts), nil)

	got, err := l.GenerateStableSelector(context.Background(), "F0", "input")
	require.NoError(t, err)
	assert.Equal(t, probe.Path, got)
}

func TestGenerateStableSelectorNoUniqueCandidate(t *testing.T) {
	probe := &elementProbe{Tag: "div"}
	l := New(stablePage(probe, nil), nil)

	_, err := l.GenerateStableSelector(context.Background(), "F0", "div")
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestGenerateStableSelectorMissingElement(t *testing.T) {
	l := New(stablePage(nil, nil), nil)

	_, err := l.GenerateStableSelector(context.Background(), "F0", "#gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirstSpecificClass(t *testing.T) {
	assert.Equal(t, "LocationField", firstSpecificClass([]string{"active", "css-1a2b", "LocationField"}))
	assert.Empty(t, firstSpecificClass([]string{"row", "col", "container"}))
	assert.Empty(t, firstSpecificClass(nil))
}

func FuzzNormalizeSelector(f *testing.F) {
	f.Add([]byte("#123-field"))
	f.Add([]byte("#safe-id"))
	f.Add([]byte("div > input"))
	f.Fuzz(func(t *testing.T, data []byte) {
		fz := fuzz.NewConsumer(data)
		sel, err := fz.GetString()
		if err != nil {
			return
		}
		out := NormalizeSelector(sel)
		// Normalization is idempotent.
		if again := NormalizeSelector(out); again != out {
			t.Fatalf("not idempotent: %q -> %q -> %q", sel, out, again)
		}
		// A non-empty selector never normalizes to nothing.
		if strings.TrimSpace(sel) != "" && out == "" {
			t.Fatalf("lost selector %q", sel)
		}
	})
}
