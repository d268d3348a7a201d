// internal/frames/mapper.go
// Package frames discovers the page's frame tree, assigns identifiers that
// stay stable within one navigation generation, and answers "which frame
// contains this selector" with a per-generation cache.
package frames

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kilravok/formweaver/internal/driver"
)

// ErrNoFrame reports that no frame in the current generation contains the
// selector. Callers treat it as element-not-found, never as fatal.
var ErrNoFrame = errors.New("no frame contains the selector")

// MainIdentifier is always assigned to the top-level document.
const MainIdentifier = "main"

// detachedRetryPause is how long to wait before the single retry against a
// frame that failed to answer a query (usually mid-reload).
const detachedRetryPause = 500 * time.Millisecond

// FrameRecord is one discovered frame. Valid only within the generation it
// was mapped in.
type FrameRecord struct {
	// Identifier is the stable name used by callers and instructions.
	Identifier string
	// DriverID is the browser-assigned frame id the driver needs.
	DriverID string
	URL      string
	Depth    int
	// ParentIdentifier is empty only for the top frame.
	ParentIdentifier string
	// Attributes are name/id/src/title harvested from the owning iframe.
	Attributes map[string]string
}

// Hint biases selector search toward frames whose identifier suggests they
// host a known sub-form. Hints are a shortcut only; the full depth-ordered
// search still runs when a hint misses.
type Hint struct {
	SelectorContains string
	FrameContains    string
}

var defaultHints = []Hint{
	{SelectorContains: "school", FrameContains: "application"},
	{SelectorContains: "education", FrameContains: "application"},
	{SelectorContains: "resume", FrameContains: "application"},
	{SelectorContains: "card", FrameContains: "payment"},
}

// Mapper owns frame identity and selector-to-frame resolution for one
// page. It never owns frame lifetime; the driver does.
type Mapper struct {
	page   driver.Page
	logger *zap.Logger
	hints  []Hint

	generation string
	records    []FrameRecord
	byID       map[string]*FrameRecord
	// cache maps selector -> frame identifier within the current
	// generation. Discarded wholesale on MapFrames/ResetCache.
	cache map[string]string
}

// NewMapper builds a Mapper over the given page.
func NewMapper(page driver.Page, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{
		page:   page,
		logger: logger.Named("frames"),
		hints:  defaultHints,
		byID:   make(map[string]*FrameRecord),
		cache:  make(map[string]string),
	}
}

// Generation returns the id of the current frame generation, empty before
// the first MapFrames or after ResetCache.
func (m *Mapper) Generation() string { return m.generation }

// Records returns the frames of the current generation in ascending depth
// order.
func (m *Mapper) Records() []FrameRecord {
	out := make([]FrameRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Lookup finds a frame by its stable identifier in the current generation.
func (m *Mapper) Lookup(identifier string) (FrameRecord, bool) {
	if identifier == "" {
		identifier = MainIdentifier
	}
	rec, ok := m.byID[identifier]
	if !ok {
		return FrameRecord{}, false
	}
	return *rec, true
}

// MapFrames walks the frame tree and rebuilds all records for a fresh
// generation. Any previously issued identifiers and cached resolutions are
// discarded, never patched.
func (m *Mapper) MapFrames(ctx context.Context) error {
	infos, err := m.page.Frames(ctx)
	if err != nil {
		return fmt.Errorf("frame mapping failed: %w", err)
	}
	if len(infos) == 0 {
		return fmt.Errorf("frame mapping failed: driver reported no frames")
	}

	m.generation = uuid.NewString()
	m.records = m.records[:0]
	m.byID = make(map[string]*FrameRecord)
	m.cache = make(map[string]string)

	// infos arrive parents-before-children, so depth and parent identifier
	// are always resolvable in one pass.
	depthByDriverID := make(map[string]int, len(infos))
	identByDriverID := make(map[string]string, len(infos))
	childIndex := make(map[string]int, len(infos))

	for _, info := range infos {
		rec := FrameRecord{DriverID: info.ID, URL: info.URL}

		if info.ParentID == "" {
			rec.Identifier = MainIdentifier
			rec.Depth = 0
		} else {
			rec.Depth = depthByDriverID[info.ParentID] + 1
			rec.ParentIdentifier = identByDriverID[info.ParentID]
			rec.Attributes = m.ownerAttributes(ctx, info.ID)
			idx := childIndex[info.ParentID]
			childIndex[info.ParentID]++
			rec.Identifier = m.uniqueIdentifier(m.chooseIdentifier(info, rec, idx))
		}

		depthByDriverID[info.ID] = rec.Depth
		identByDriverID[info.ID] = rec.Identifier
		m.records = append(m.records, rec)
	}
	// Re-slice so byID pointers stay valid.
	for i := range m.records {
		m.byID[m.records[i].Identifier] = &m.records[i]
	}

	m.logger.Debug("Mapped frame tree",
		zap.String("generation", m.generation),
		zap.Int("frames", len(m.records)))
	return nil
}

// ownerAttributes fetches the owning iframe's attributes, tolerating one
// transient detachment. Missing attributes are not an error.
func (m *Mapper) ownerAttributes(ctx context.Context, driverID string) map[string]string {
	attrs, err := m.page.FrameOwnerAttributes(ctx, driverID)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(detachedRetryPause):
		}
		attrs, err = m.page.FrameOwnerAttributes(ctx, driverID)
	}
	if err != nil {
		m.logger.Debug("Frame owner attributes unavailable",
			zap.String("frame", driverID), zap.Error(err))
		return nil
	}
	return attrs
}

// chooseIdentifier applies the assignment priority: frame name, iframe id,
// iframe name, URL slug, positional fallback.
func (m *Mapper) chooseIdentifier(info driver.FrameInfo, rec FrameRecord, index int) string {
	if id := slugify(info.Name); id != "" {
		return id
	}
	if id := slugify(rec.Attributes["id"]); id != "" {
		return id
	}
	if id := slugify(rec.Attributes["name"]); id != "" {
		return id
	}
	if id := urlSlug(info.URL); id != "" {
		return id
	}
	return fmt.Sprintf("%s_frame_%d", rec.ParentIdentifier, index)
}

// uniqueIdentifier resolves collisions by appending a numeric suffix.
func (m *Mapper) uniqueIdentifier(base string) string {
	if _, taken := m.byIdentifierPending(base); !taken {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if _, taken := m.byIdentifierPending(candidate); !taken {
			return candidate
		}
	}
}

func (m *Mapper) byIdentifierPending(id string) (FrameRecord, bool) {
	if id == MainIdentifier {
		return FrameRecord{}, true
	}
	for _, rec := range m.records {
		if rec.Identifier == id {
			return rec, true
		}
	}
	return FrameRecord{}, false
}

// slugify reduces a raw attribute value to identifier characters.
func slugify(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// urlSlug derives an identifier from the last meaningful URL path segment.
func urlSlug(rawURL string) string {
	if rawURL == "" || rawURL == "about:blank" {
		return ""
	}
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	trimmed = strings.TrimRight(trimmed, "/")
	seg := trimmed
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		seg = trimmed[i+1:]
	}
	if i := strings.LastIndexByte(seg, '.'); i > 0 {
		seg = seg[:i]
	}
	// A bare host is not a useful identifier.
	if seg == "" || strings.Contains(seg, ":") || strings.Contains(seg, "www") {
		return ""
	}
	return slugify(seg)
}

// FindFrameForSelector locates the frame containing the selector: cache
// first, then hint-matched frames, then all frames in ascending depth
// order. The first frame with at least one match wins and is cached.
func (m *Mapper) FindFrameForSelector(ctx context.Context, selector string) (string, error) {
	if len(m.records) == 0 {
		if err := m.MapFrames(ctx); err != nil {
			return "", err
		}
	}
	if id, ok := m.cache[selector]; ok {
		return id, nil
	}

	lowered := strings.ToLower(selector)
	for _, hint := range m.hints {
		if !strings.Contains(lowered, hint.SelectorContains) {
			continue
		}
		for _, rec := range m.records {
			if rec.Identifier == MainIdentifier || !strings.Contains(rec.Identifier, hint.FrameContains) {
				continue
			}
			if m.probe(ctx, rec, selector) {
				m.cache[selector] = rec.Identifier
				return rec.Identifier, nil
			}
		}
	}

	// Records are already in ascending depth order from the tree walk.
	for _, rec := range m.records {
		if m.probe(ctx, rec, selector) {
			m.cache[selector] = rec.Identifier
			return rec.Identifier, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoFrame, selector)
}

// probe checks whether the selector matches inside one frame, retrying
// once after a short pause when the frame looks detached.
func (m *Mapper) probe(ctx context.Context, rec FrameRecord, selector string) bool {
	count, err := m.page.Count(ctx, rec.DriverID, selector)
	if err != nil {
		if errors.Is(err, driver.ErrPageLost) || ctx.Err() != nil {
			return false
		}
		m.logger.Debug("Frame query failed, retrying once",
			zap.String("frame", rec.Identifier), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(detachedRetryPause):
		}
		count, err = m.page.Count(ctx, rec.DriverID, selector)
		if err != nil {
			m.logger.Debug("Frame still unresponsive, skipping",
				zap.String("frame", rec.Identifier), zap.Error(err))
			return false
		}
	}
	return count > 0
}

// ResetCache discards the current generation entirely. The owner must call
// this after every navigation; the Mapper does not self-detect them.
func (m *Mapper) ResetCache() {
	m.generation = ""
	m.records = nil
	m.byID = make(map[string]*FrameRecord)
	m.cache = make(map[string]string)
}
