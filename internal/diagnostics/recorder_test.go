// internal/diagnostics/recorder_test.go
package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorderStageLifecycle(t *testing.T) {
	rec := NewRecorder(zap.NewNop())

	s := rec.StageStart("map_frames")
	s.Detail("frames", 3)
	s.End(true, nil)

	f := rec.StageStart("field_action")
	f.End(false, errors.New("element not found"))

	stages := rec.Stages()
	require.Len(t, stages, 2)

	assert.Equal(t, "map_frames", stages[0].Name)
	assert.True(t, stages[0].Success)
	assert.Equal(t, 3, stages[0].Details["frames"])
	assert.Empty(t, stages[0].Error)

	assert.Equal(t, "field_action", stages[1].Name)
	assert.False(t, stages[1].Success)
	assert.Equal(t, "element not found", stages[1].Error)
}

func TestRecorderDoubleEndIsIgnored(t *testing.T) {
	rec := NewRecorder(nil)

	s := rec.StageStart("once")
	s.End(true, nil)
	s.End(false, errors.New("should not be recorded"))

	stages := rec.Stages()
	require.Len(t, stages, 1)
	assert.True(t, stages[0].Success)
}

func TestRecorderReportCounts(t *testing.T) {
	rec := NewRecorder(nil)
	rec.StageStart("a").End(true, nil)
	rec.StageStart("b").End(false, errors.New("boom"))
	rec.StageStart("c").End(true, nil)

	rep := rec.Report()
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 1, rep.Failed)
	assert.Len(t, rep.Stages, 3)
}

func TestRecorderWriteReport(t *testing.T) {
	rec := NewRecorder(nil)
	rec.StageStart("only").Detail("selector", "#email").End(true, nil)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, rec.WriteReport(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rep Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, "only", rep.Stages[0].Name)
	assert.Equal(t, "#email", rep.Stages[0].Details["selector"])
}
