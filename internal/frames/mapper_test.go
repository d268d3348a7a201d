// internal/frames/mapper_test.go
package frames

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/driver"
	"github.com/kilravok/formweaver/internal/driver/drivertest"
)

// nestedApplicationPage builds a three-level tree: main -> unnamed widget
// iframe -> iframe named "application" that contains #school-name.
func nestedApplicationPage() *drivertest.FakePage {
	return &drivertest.FakePage{
		FramesFn: func(ctx context.Context) ([]driver.FrameInfo, error) {
			return []driver.FrameInfo{
				{ID: "F0", URL: "https://jobs.example.com/apply"},
				{ID: "F1", ParentID: "F0", URL: "https://cdn.example.com/embed/host.html"},
				{ID: "F2", ParentID: "F1", Name: "application", URL: "https://ats.example.com/form"},
			}, nil
		},
		FrameOwnerAttributesFn: func(ctx context.Context, frameID string) (map[string]string, error) {
			if frameID == "F1" {
				return map[string]string{"id": "widget-host"}, nil
			}
			return nil, nil
		},
		CountFn: func(ctx context.Context, frameID, selector string) (int, error) {
			if frameID == "F2" && selector == "#school-name" {
				return 1, nil
			}
			return 0, nil
		},
	}
}

func TestMapFramesAssignsIdentifiers(t *testing.T) {
	m := NewMapper(nestedApplicationPage(), zap.NewNop())
	require.NoError(t, m.MapFrames(context.Background()))

	recs := m.Records()
	require.Len(t, recs, 3)

	assert.Equal(t, "main", recs[0].Identifier)
	assert.Equal(t, 0, recs[0].Depth)
	assert.Empty(t, recs[0].ParentIdentifier)

	// iframe id attribute outranks the URL slug.
	assert.Equal(t, "widget_host", recs[1].Identifier)
	assert.Equal(t, "main", recs[1].ParentIdentifier)
	assert.Equal(t, 1, recs[1].Depth)

	// Explicit frame name outranks everything.
	assert.Equal(t, "application", recs[2].Identifier)
	assert.Equal(t, "widget_host", recs[2].ParentIdentifier)
	assert.Equal(t, 2, recs[2].Depth)

	assert.NotEmpty(t, m.Generation())
}

func TestMapFramesCollisionSuffix(t *testing.T) {
	page := &drivertest.FakePage{
		FramesFn: func(ctx context.Context) ([]driver.FrameInfo, error) {
			return []driver.FrameInfo{
				{ID: "F0"},
				{ID: "F1", ParentID: "F0", Name: "content"},
				{ID: "F2", ParentID: "F0", Name: "content"},
			}, nil
		},
	}
	m := NewMapper(page, nil)
	require.NoError(t, m.MapFrames(context.Background()))

	recs := m.Records()
	assert.Equal(t, "content", recs[1].Identifier)
	assert.Equal(t, "content_2", recs[2].Identifier)
}

func TestMapFramesPositionalFallback(t *testing.T) {
	page := &drivertest.FakePage{
		FramesFn: func(ctx context.Context) ([]driver.FrameInfo, error) {
			return []driver.FrameInfo{
				{ID: "F0"},
				{ID: "F1", ParentID: "F0", URL: "about:blank"},
			}, nil
		},
	}
	m := NewMapper(page, nil)
	require.NoError(t, m.MapFrames(context.Background()))

	assert.Equal(t, "main_frame_0", m.Records()[1].Identifier)
}

func TestFindFrameForSelectorNestedFrame(t *testing.T) {
	page := nestedApplicationPage()
	m := NewMapper(page, zap.NewNop())
	require.NoError(t, m.MapFrames(context.Background()))

	id, err := m.FindFrameForSelector(context.Background(), "#school-name")
	require.NoError(t, err)
	assert.Equal(t, "application", id)

	// Second lookup is served from the cache without touching the page.
	before := len(page.CallLog())
	id, err = m.FindFrameForSelector(context.Background(), "#school-name")
	require.NoError(t, err)
	assert.Equal(t, "application", id)
	assert.Equal(t, before, len(page.CallLog()))
}

func TestFindFrameForSelectorPrefersShallowerFrame(t *testing.T) {
	page := nestedApplicationPage()
	page.CountFn = func(ctx context.Context, frameID, selector string) (int, error) {
		// Present everywhere; ascending depth order means main wins.
		return 1, nil
	}
	m := NewMapper(page, nil)
	require.NoError(t, m.MapFrames(context.Background()))

	id, err := m.FindFrameForSelector(context.Background(), "input")
	require.NoError(t, err)
	assert.Equal(t, "main", id)
}

func TestFindFrameForSelectorNoFrame(t *testing.T) {
	m := NewMapper(nestedApplicationPage(), nil)
	require.NoError(t, m.MapFrames(context.Background()))

	_, err := m.FindFrameForSelector(context.Background(), "#missing")
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestFindFrameForSelectorToleratesDetachedFrame(t *testing.T) {
	failures := map[string]int{}
	page := nestedApplicationPage()
	inner := page.CountFn
	page.CountFn = func(ctx context.Context, frameID, selector string) (int, error) {
		if frameID == "F2" && failures["F2"] == 0 {
			failures["F2"]++
			return 0, errors.New("frame detached")
		}
		return inner(ctx, frameID, selector)
	}
	m := NewMapper(page, zap.NewNop())
	require.NoError(t, m.MapFrames(context.Background()))

	id, err := m.FindFrameForSelector(context.Background(), "#school-name")
	require.NoError(t, err)
	assert.Equal(t, "application", id)
}

func TestResetCacheDiscardsGeneration(t *testing.T) {
	page := nestedApplicationPage()
	m := NewMapper(page, nil)
	require.NoError(t, m.MapFrames(context.Background()))

	_, err := m.FindFrameForSelector(context.Background(), "#school-name")
	require.NoError(t, err)

	m.ResetCache()
	assert.Empty(t, m.Generation())
	assert.Empty(t, m.Records())

	// The next lookup must remap rather than trust stale records.
	framesBefore := countCalls(page.CallLog(), "Frames")
	_, err = m.FindFrameForSelector(context.Background(), "#school-name")
	require.NoError(t, err)
	assert.Equal(t, framesBefore+1, countCalls(page.CallLog(), "Frames"))
}

func countCalls(log []string, name string) int {
	n := 0
	for _, c := range log {
		if c == name {
			n++
		}
	}
	return n
}

func TestURLSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://ats.example.com/forms/apply.html", "apply"},
		{"https://ats.example.com/embed/", "embed"},
		{"about:blank", ""},
		{"", ""},
		{"https://www.example.com", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, urlSlug(tc.in), "input %q", tc.in)
	}
}

func TestLookup(t *testing.T) {
	m := NewMapper(nestedApplicationPage(), nil)
	require.NoError(t, m.MapFrames(context.Background()))

	rec, ok := m.Lookup("application")
	require.True(t, ok)
	assert.Equal(t, "F2", rec.DriverID)

	// Empty identifier aliases the main frame.
	rec, ok = m.Lookup("")
	require.True(t, ok)
	assert.Equal(t, "F0", rec.DriverID)

	_, ok = m.Lookup("nope")
	assert.False(t, ok)
}
