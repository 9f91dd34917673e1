package note

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnknownTemplate is returned when a template name is not configured.
var ErrUnknownTemplate = errors.New("note: unknown template")

// Template is a named set of field presets.
type Template struct {
	Name   string
	Values map[FieldID]string
}

// ParseTemplate builds a Template from dotted field ids, as found in config.
func ParseTemplate(name string, values map[string]string) (Template, error) {
	t := Template{Name: name, Values: make(map[FieldID]string, len(values))}
	var errs []error
	for _, k := range slices.Sorted(maps.Keys(values)) {
		id, err := ParseFieldID(k)
		if err != nil {
			errs = append(errs, fmt.Errorf("template %q: %w", name, err))
			continue
		}
		t.Values[id] = values[k]
	}
	if err := errors.Join(errs...); err != nil {
		return Template{}, err
	}
	return t, nil
}

// Apply writes every preset into d with SetField semantics and returns the
// number of fields written.
func (t Template) Apply(d *Document) (int, error) {
	n := 0
	for id, v := range t.Values {
		if err := d.SetField(id, v); err != nil {
			return n, fmt.Errorf("note: apply template %q: %w", t.Name, err)
		}
		n++
	}
	return n, nil
}
