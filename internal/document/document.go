// Package document implements the semi-structured project document: a typed
// metadata record plus opaque top-level sections owned by the form components.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/starford/lcca/internal/apperr"
)

// Metadata keys with typed accessors.
const (
	KeyProjectName = "project_name"
	KeyCreatedAt   = "created_at"

	metadataKey = "metadata"
)

// DefaultProjectName is used when a document is created without a name.
const DefaultProjectName = "New Project"

// Metadata is the mandatory top-level "metadata" object. Keys other than the
// typed ones are preserved verbatim.
type Metadata struct {
	ProjectName string
	CreatedAt   string
	extra       map[string]json.RawMessage
}

// Document is one project's content.
type Document struct {
	Metadata Metadata
	sections map[string]json.RawMessage
}

// New returns a document holding only the metadata seed.
func New(name string, createdAt time.Time) *Document {
	if name == "" {
		name = DefaultProjectName
	}
	return &Document{
		Metadata: Metadata{
			ProjectName: name,
			CreatedAt:   createdAt.Format("2006-01-02 15:04:05.000000"),
		},
	}
}

// Parse decodes data into a Document. The input must be a JSON object with a
// "metadata" object; anything else is reported as apperr.ErrCorrupt.
func Parse(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCorrupt, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: top level is not an object", apperr.ErrCorrupt)
	}
	rawMeta, ok := top[metadataKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing metadata section", apperr.ErrCorrupt)
	}
	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", apperr.ErrCorrupt, err)
	}
	delete(top, metadataKey)

	d := &Document{Metadata: meta}
	if len(top) > 0 {
		d.sections = top
	}
	return d, nil
}

// Marshal serializes the document in the canonical on-disk form
// (pretty-printed, trailing newline).
func (d *Document) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("document: marshal: %w", err)
	}
	return append(data, '\n'), nil
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	meta, err := json.Marshal(&d.Metadata)
	if err != nil {
		return nil, err
	}
	top := make(map[string]json.RawMessage, len(d.sections)+1)
	for k, v := range d.sections {
		top[k] = v
	}
	top[metadataKey] = meta
	return json.Marshal(top)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{Metadata: d.Metadata.clone()}
	if d.sections != nil {
		out.sections = make(map[string]json.RawMessage, len(d.sections))
		for k, v := range d.sections {
			out.sections[k] = bytes.Clone(v)
		}
	}
	return out
}

// Section returns the raw JSON of a top-level section.
func (d *Document) Section(name string) (json.RawMessage, bool) {
	v, ok := d.sections[name]
	return v, ok
}

// DecodeSection unmarshals a section into v. Missing sections are
// reported as apperr.ErrNotFound.
func (d *Document) DecodeSection(name string, v any) error {
	raw, ok := d.sections[name]
	if !ok {
		return fmt.Errorf("document: section %q: %w", name, apperr.ErrNotFound)
	}
	return json.Unmarshal(raw, v)
}

// SetSection replaces a top-level section with the JSON encoding of v.
func (d *Document) SetSection(name string, v any) error {
	if name == metadataKey {
		return fmt.Errorf("document: %q is reserved", metadataKey)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("document: section %q: %w", name, err)
	}
	if d.sections == nil {
		d.sections = make(map[string]json.RawMessage)
	}
	d.sections[name] = raw
	return nil
}

// DeleteSection removes a section if present.
func (d *Document) DeleteSection(name string) {
	delete(d.sections, name)
}

// SectionNames returns the section names in sorted order.
func (d *Document) SectionNames() []string {
	names := make([]string, 0, len(d.sections))
	for k := range d.sections {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Title is the editor window title for this document.
func (d *Document) Title(projectID string) string {
	return fmt.Sprintf("LCCA - %s (%s)", d.Metadata.GetString(KeyProjectName, projectID), projectID)
}
