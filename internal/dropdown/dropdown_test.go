// internal/dropdown/dropdown_test.go
package dropdown

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/driver/drivertest"
)

// setJSON injects a scripted evaluation result into the out parameter the
// way the real driver does, via JSON round-trip.
func setJSON(t *testing.T, out, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

// scriptedPage dispatches Evaluate calls on distinctive script fragments.
type scripted struct {
	nativeOptions any        // nil means "not a native select"
	scanned       []map[string]any
	frameworkHTML []string
	containersVisible []bool // consumed per visibility check
}

func (s *scripted) page(t *testing.T) *drivertest.FakePage {
	return &drivertest.FakePage{
		EvaluateFn: func(ctx context.Context, frameID, expr string, out any) error {
			switch {
			case strings.Contains(expr, "el.options"):
				if s.nativeOptions != nil {
					setJSON(t, out, s.nativeOptions)
				}
			case strings.Contains(expr, "setAttribute('data-fw-opt'"):
				setJSON(t, out, s.scanned)
			case strings.Contains(expr, "outerHTML"):
				setJSON(t, out, s.frameworkHTML)
			case strings.Contains(expr, "display = 'none'"):
				// force-hide, nothing to return
			case strings.Contains(expr, "getBoundingClientRect"):
				visible := false
				if len(s.containersVisible) > 0 {
					visible = s.containersVisible[0]
					s.containersVisible = s.containersVisible[1:]
				}
				if out != nil {
					setJSON(t, out, visible)
				}
			}
			return nil
		},
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			if strings.HasPrefix(selector, "[data-fw-opt=") {
				return 1, nil
			}
			return 0, nil
		},
	}
}

func newTestEngine(page *drivertest.FakePage) *Engine {
	return NewEngine(page, zap.NewNop(), nil, 0.7)
}

func TestSelectValueNativeSelect(t *testing.T) {
	s := &scripted{
		nativeOptions: []map[string]any{
			{"text": "", "value": ""},
			{"text": "Yes", "value": "1"},
			{"text": "No", "value": "2"},
			{"text": "Decline", "value": "3"},
		},
	}
	page := s.page(t)
	var selectedLabel string
	page.SelectByLabelFn = func(ctx context.Context, frameID, selector, label string) error {
		selectedLabel = label
		return nil
	}

	chosen, err := newTestEngine(page).SelectValue(context.Background(), "F0", "#veteran", "yes")
	require.NoError(t, err)
	assert.Equal(t, "Yes", chosen.Text)
	assert.Equal(t, "Yes", selectedLabel)
}

func TestSelectValueSubstringContainment(t *testing.T) {
	s := &scripted{
		scanned: []map[string]any{
			{"text": "San Francisco, CA", "index": 0},
			{"text": "San Jose, CA", "index": 1},
		},
	}
	page := s.page(t)

	chosen, err := newTestEngine(page).SelectValue(context.Background(), "F0", "#city", "San Francisco")
	require.NoError(t, err)
	assert.Equal(t, "San Francisco, CA", chosen.Text)
	assert.Equal(t, "[data-fw-opt='0']", chosen.SourceSelector)
}

func TestSelectValueDeclineFallback(t *testing.T) {
	s := &scripted{
		nativeOptions: []map[string]any{
			{"text": "Strongly agree", "value": "a"},
			{"text": "Strongly disagree", "value": "b"},
			{"text": "Prefer not to answer", "value": "c"},
		},
	}
	page := s.page(t)
	var selectedLabel string
	page.SelectByLabelFn = func(ctx context.Context, frameID, selector, label string) error {
		selectedLabel = label
		return nil
	}

	chosen, err := newTestEngine(page).SelectValue(context.Background(), "F0", "#eeo", "xyzzy")
	require.NoError(t, err)
	assert.Equal(t, "Prefer not to answer", chosen.Text)
	assert.Equal(t, "Prefer not to answer", selectedLabel)
}

func TestSelectValueNoOptionsAnywhere(t *testing.T) {
	s := &scripted{}
	_, err := newTestEngine(s.page(t)).SelectValue(context.Background(), "F0", "#empty", "anything")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestSelectValueFrameworkScrapeFallback(t *testing.T) {
	s := &scripted{
		frameworkHTML: []string{
			`<ul class="select2-results"><li>Red</li><li>Blue</li></ul>`,
		},
	}
	// No visible option-likes render, so open-and-scan yields nothing and
	// the scraped markup is the only source of options.
	page := s.page(t)

	chosen, err := newTestEngine(page).SelectValue(context.Background(), "F0", "#color", "blue")
	require.NoError(t, err)
	assert.Equal(t, "Blue", chosen.Text)
	assert.Empty(t, chosen.SourceSelector)

	// With no clickable option element, the keyboard gesture commits.
	assert.Contains(t, page.CallLog(), "Press F0 #color Enter")
}

func TestOptionTextsFromMarkup(t *testing.T) {
	markup := `<div class="chosen-results">
		<ul>
			<li>United States</li>
			<li>United Kingdom</li>
		</ul>
		<div role="option">Canada</div>
	</div>`
	texts := optionTextsFromMarkup(markup)
	assert.Contains(t, texts, "United States")
	assert.Contains(t, texts, "United Kingdom")
	assert.Contains(t, texts, "Canada")
}

func TestTypingSteps(t *testing.T) {
	assert.Equal(t,
		[]string{"San", "San F", "San Francisco", "San Francisco, CA"},
		typingSteps("San Francisco, CA"))
	assert.Equal(t, []string{"No"}, typingSteps("No"))
	assert.Empty(t, typingSteps("  "))
}

func TestRotationOffsetDeterministic(t *testing.T) {
	a := rotationOffset("Yes", "#veteran", 3)
	b := rotationOffset("Yes", "#veteran", 3)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 3)

	// Different widgets should not all start on the same strategy.
	offsets := map[int]struct{}{}
	for _, sel := range []string{"#a", "#b", "#c", "#d", "#e", "#f", "#g", "#h"} {
		offsets[rotationOffset("Yes", sel, 3)] = struct{}{}
	}
	assert.Greater(t, len(offsets), 1)

	assert.Equal(t, 0, rotationOffset("x", "y", 1))
}

func TestCleanupLadder(t *testing.T) {
	s := &scripted{containersVisible: []bool{true, false}}
	page := s.page(t)
	e := newTestEngine(page)

	e.cleanup(context.Background(), "F0", "Yes", "#veteran")

	log := page.CallLog()
	assert.Contains(t, log, "Press F0  Escape")
	clickedAway := false
	for _, c := range log {
		if strings.HasPrefix(c, "ClickAt ") {
			clickedAway = true
		}
	}
	assert.True(t, clickedAway, "expected a click-away dismissal, got %v", log)
}

func TestCleanupSwallowsFailuresAndCanceledContext(t *testing.T) {
	s := &scripted{}
	page := s.page(t)
	page.PressFn = func(ctx context.Context, frameID, selector, key string) error {
		return errors.New("keyboard broken")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Must not panic and must still attempt dismissal on a dead context.
	newTestEngine(page).cleanup(ctx, "F0", "Yes", "#veteran")
	assert.NotEmpty(t, page.CallLog())
}
