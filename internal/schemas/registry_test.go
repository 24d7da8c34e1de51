package schemas

import (
	"testing"

	"github.com/dleary/packetflow/internal/packet"
)

func TestRegistryRegisterAndCategories(t *testing.T) {
	r, err := NewRegistry(Builtin()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cats := r.Categories()
	if len(cats) != 7 {
		t.Fatalf("categories = %v", cats)
	}
	for i := 1; i < len(cats); i++ {
		if cats[i-1] >= cats[i] {
			t.Fatalf("categories not sorted: %v", cats)
		}
	}
	if _, ok := r.Get("deed"); !ok {
		t.Fatal("deed schema missing")
	}
	if _, ok := r.Get("hand-drawn plat"); ok {
		t.Fatal("unknown category resolved")
	}
}

func TestRegisterRejectsEmptyCategory(t *testing.T) {
	r, _ := NewRegistry()
	if err := r.Register(Schema{Fields: []FieldSpec{{Name: "x"}}}); err == nil {
		t.Fatal("empty category accepted")
	}
}

func TestValidateAcceptsResolvedAbsence(t *testing.T) {
	r, _ := NewRegistry(Builtin()...)
	fields := map[string]packet.FieldValue{
		"grantor":           packet.Present("Alice"),
		"grantee":           packet.Present("Bob"),
		"legal_description": packet.NotInDocument(),
		"county":            packet.MissingField(),
	}
	if err := r.Validate("deed", fields); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	r, _ := NewRegistry(Builtin()...)
	fields := map[string]packet.FieldValue{
		"grantor": packet.Present(12345.0),
	}
	if err := r.Validate("deed", fields); err == nil {
		t.Fatal("number accepted for a string field")
	}
}

func TestValidateUnknownCategory(t *testing.T) {
	r, _ := NewRegistry(Builtin()...)
	if err := r.Validate("hand-drawn plat", nil); err == nil {
		t.Fatal("unknown category validated")
	}
}

func TestJSONSchemaShape(t *testing.T) {
	s := Schema{Category: "deed", Fields: []FieldSpec{{Name: "grantor", Type: "string"}, {Name: "acreage", Type: "number"}}}
	js := s.JSONSchema()
	if js["additionalProperties"] != false {
		t.Fatal("schema must close the property set")
	}
	props := js["properties"].(map[string]any)
	grantor := props["grantor"].(map[string]any)
	types := grantor["type"].([]string)
	if len(types) != 2 || types[0] != "string" || types[1] != "null" {
		t.Fatalf("grantor type = %v, every field must be nullable", types)
	}
}

func TestEffectiveSchemaResolution(t *testing.T) {
	r, _ := NewRegistry(Builtin()...)

	classified := &packet.Document{Classification: &packet.Classification{Category: "deed"}}
	if s, ok := r.Effective(classified); !ok || s.Category != "deed" {
		t.Fatalf("effective = %v %v", s.Category, ok)
	}

	overridden := &packet.Document{
		Classification: &packet.Classification{Category: "deed"},
		Override:       &packet.CategoryOverride{Category: "mortgage"},
	}
	if s, ok := r.Effective(overridden); !ok || s.Category != "mortgage" {
		t.Fatalf("override not honored: %v %v", s.Category, ok)
	}

	custom := &packet.Document{
		Classification: &packet.Classification{Category: "deed"},
		Override:       &packet.CategoryOverride{Category: "hand-drawn plat", IsCustom: true},
	}
	if _, ok := r.Effective(custom); ok {
		t.Fatal("custom override has no registered schema")
	}

	if _, ok := r.Effective(&packet.Document{}); ok {
		t.Fatal("unclassified document has no effective schema")
	}
}

func TestCriticalFields(t *testing.T) {
	deed, _ := NewRegistry(Builtin()...)
	s, _ := deed.Get("deed")
	crit := s.CriticalFields()
	if len(crit) != 3 {
		t.Fatalf("deed critical fields = %v", crit)
	}
	other, _ := deed.Get("other")
	if len(other.CriticalFields()) != 0 {
		t.Fatal("catch-all category must have no critical fields")
	}
}
