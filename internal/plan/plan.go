// internal/plan/plan.go
// Package plan loads field-instruction plans for the CLI. A plan is the
// JSON output of whatever produced the field mapping; validation here is
// about shape only, never about whether the mapping makes semantic sense.
package plan

import (
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/kilravok/formweaver/internal/executor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Field is one instruction in a plan file.
type Field struct {
	Selector string   `json:"selector"`
	Type     string   `json:"type"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
	Frame    string   `json:"frame,omitempty"`
	Label    string   `json:"label,omitempty"`
}

// Plan is an ordered list of field instructions plus run policy.
type Plan struct {
	URL         string  `json:"url,omitempty"`
	StopOnError bool    `json:"stop_on_error,omitempty"`
	Fields      []Field `json:"fields"`
}

// typeAliases maps the spellings plan producers use onto the executor's
// field types.
var typeAliases = map[string]executor.FieldType{
	"text":            executor.FieldText,
	"email":           executor.FieldText,
	"tel":             executor.FieldText,
	"url":             executor.FieldText,
	"number":          executor.FieldText,
	"textarea":        executor.FieldTextarea,
	"checkbox":        executor.FieldCheckbox,
	"radio":           executor.FieldRadio,
	"file":            executor.FieldFile,
	"select":          executor.FieldSelect,
	"typeahead":       executor.FieldTypeahead,
	"dropdown":        executor.FieldTypeahead,
	"custom-dropdown": executor.FieldTypeahead,
	"autocomplete":    executor.FieldTypeahead,
}

// Load reads and validates a plan file.
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open plan file: %w", err)
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("plan file %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan and checks its shape.
func Parse(r io.Reader) (*Plan, error) {
	var p Plan
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("plan has no fields")
	}
	for i, f := range p.Fields {
		if strings.TrimSpace(f.Selector) == "" {
			return nil, fmt.Errorf("field %d: selector is required", i)
		}
		if _, ok := typeAliases[strings.ToLower(strings.TrimSpace(f.Type))]; !ok {
			return nil, fmt.Errorf("field %d (%s): unknown field type %q", i, f.Selector, f.Type)
		}
	}
	return &p, nil
}

// Actions converts the plan's fields into executor instructions.
func (p *Plan) Actions() []executor.ActionContext {
	actions := make([]executor.ActionContext, 0, len(p.Fields))
	for _, f := range p.Fields {
		actions = append(actions, executor.ActionContext{
			Selector:        f.Selector,
			FieldType:       typeAliases[strings.ToLower(strings.TrimSpace(f.Type))],
			TargetValue:     f.Value,
			Values:          f.Values,
			FrameIdentifier: f.Frame,
			FallbackText:    f.Label,
		})
	}
	return actions
}
