package packet

import (
	"encoding/json"
	"fmt"
)

// WireSentinel is the raw value the remote extraction service returns when a
// field was explicitly resolved as absent from the document. It never leaks
// past the API client boundary; internally fields carry a FieldKind.
const WireSentinel = "NOT_IN_DOCUMENT"

// NotInDocumentLabel is what an explicitly-absent field renders as in any
// human-facing output.
const NotInDocumentLabel = "Not in document"

type FieldKind int

const (
	// FieldMissing means extraction produced no value for the field.
	FieldMissing FieldKind = iota
	// FieldPresent means extraction produced a concrete value.
	FieldPresent
	// FieldNotInDocument means extraction affirmatively determined the field
	// does not appear in the document. Counts as complete, not missing.
	FieldNotInDocument
)

// FieldValue is a tagged value for one extracted field.
type FieldValue struct {
	kind  FieldKind
	value any
}

func Present(v any) FieldValue { return FieldValue{kind: FieldPresent, value: v} }
func NotInDocument() FieldValue { return FieldValue{kind: FieldNotInDocument} }
func MissingField() FieldValue { return FieldValue{kind: FieldMissing} }

func (f FieldValue) Kind() FieldKind { return f.kind }

// Value returns the concrete value and true when the field is present.
func (f FieldValue) Value() (any, bool) {
	if f.kind != FieldPresent {
		return nil, false
	}
	return f.value, true
}

// Empty reports whether the field carries no usable value. An explicit
// not-in-document resolution is NOT empty: a human or the extractor has
// settled the question.
func (f FieldValue) Empty() bool {
	switch f.kind {
	case FieldMissing:
		return true
	case FieldNotInDocument:
		return false
	default:
		if f.value == nil {
			return true
		}
		if s, ok := f.value.(string); ok {
			return s == ""
		}
		return false
	}
}

// Display renders the field for human-facing output.
func (f FieldValue) Display() string {
	switch f.kind {
	case FieldNotInDocument:
		return NotInDocumentLabel
	case FieldMissing:
		return ""
	default:
		if s, ok := f.value.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", f.value)
	}
}

type fieldValueJSON struct {
	Kind  string `json:"kind"`
	Value any    `json:"value,omitempty"`
}

func (f FieldValue) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case FieldNotInDocument:
		return json.Marshal(fieldValueJSON{Kind: "not_in_document"})
	case FieldMissing:
		return json.Marshal(fieldValueJSON{Kind: "missing"})
	default:
		return json.Marshal(fieldValueJSON{Kind: "present", Value: f.value})
	}
}

func (f *FieldValue) UnmarshalJSON(blob []byte) error {
	var tagged fieldValueJSON
	if err := json.Unmarshal(blob, &tagged); err == nil && tagged.Kind != "" {
		switch tagged.Kind {
		case "not_in_document":
			*f = NotInDocument()
			return nil
		case "missing":
			*f = MissingField()
			return nil
		case "present":
			*f = Present(tagged.Value)
			return nil
		}
	}
	// Tolerate raw values, including the remote sentinel, so snapshots written
	// by older builds still load.
	var raw any
	if err := json.Unmarshal(blob, &raw); err != nil {
		return err
	}
	*f = FromRaw(raw)
	return nil
}

// FromRaw converts a raw decoded JSON value into a FieldValue, translating
// the remote sentinel and nulls.
func FromRaw(v any) FieldValue {
	switch val := v.(type) {
	case nil:
		return MissingField()
	case string:
		if val == WireSentinel {
			return NotInDocument()
		}
		return Present(val)
	default:
		return Present(v)
	}
}
