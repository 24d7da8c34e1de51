package docapi

import (
	"testing"

	"github.com/dleary/packetflow/internal/packet"
)

func TestNormalizeExtractionEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"chat envelope", `{"extraction":{"content":{"choices":[{"message":{"parsed":{"grantor":"Alice"}}}]}}}`},
		{"flat choices", `{"content":{"choices":[{"message":{"parsed":{"grantor":"Alice"}}}]}}`},
		{"nested parsed", `{"extraction":{"parsed":{"grantor":"Alice"}}}`},
		{"top-level parsed", `{"parsed":{"grantor":"Alice"}}`},
		{"fields key", `{"fields":{"grantor":"Alice"}}`},
		{"bare object", `{"grantor":"Alice"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := normalizeExtraction([]byte(tc.blob), 1)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if v, _ := res.Fields["grantor"].Value(); v != "Alice" {
				t.Fatalf("grantor = %v", res.Fields["grantor"])
			}
		})
	}
}

func TestNormalizeExtractionTranslatesSentinel(t *testing.T) {
	res, err := normalizeExtraction([]byte(`{"parsed":{"county":"NOT_IN_DOCUMENT","grantor":null}}`), 1)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Fields["county"].Kind() != packet.FieldNotInDocument {
		t.Fatalf("sentinel not translated: %v", res.Fields["county"])
	}
	if res.Fields["grantor"].Kind() != packet.FieldMissing {
		t.Fatalf("null should be missing: %v", res.Fields["grantor"])
	}
}

func TestNormalizeExtractionSkipsNonNumericLikelihoods(t *testing.T) {
	blob := `{"parsed":{"a":"x","b":"y"},"likelihoods":{"a":0.9,"b":"high"}}`
	res, err := normalizeExtraction([]byte(blob), 1)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(res.Likelihoods) != 1 || res.Likelihoods["a"] != 0.9 {
		t.Fatalf("likelihoods = %v", res.Likelihoods)
	}
}

func TestNormalizeExtractionClampsConfidence(t *testing.T) {
	res, err := normalizeExtraction([]byte(`{"parsed":{},"confidence":1.4}`), 3)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Confidence == nil || *res.Confidence != 1.0 {
		t.Fatalf("confidence = %v", res.Confidence)
	}
}

func TestNormalizeExtractionReadsUsage(t *testing.T) {
	blob := `{"parsed":{},"usage":{"pages":4,"credits":12,"dollars":0.12}}`
	res, err := normalizeExtraction([]byte(blob), 1)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Usage.Pages != 4 || res.Usage.Credits != 12 {
		t.Fatalf("usage = %+v", res.Usage)
	}
}

func TestNormalizeExtractionRejectsGarbage(t *testing.T) {
	if _, err := normalizeExtraction([]byte("not json"), 1); err == nil {
		t.Fatal("invalid JSON must be rejected")
	}
	if _, err := normalizeExtraction([]byte(`{"error":"boom"}`), 1); err == nil {
		t.Fatal("error envelope must not be treated as fields")
	}
}

func TestNormalizeSplitShapes(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"segments with pages", `{"segments":[{"pages":{"start":1,"end":3},"split_type":"deed"},{"pages":{"start":4,"end":6}}]}`},
		{"documents with flat pages", `{"documents":[{"start_page":1,"end_page":3,"split_type":"deed"},{"start_page":4,"end_page":6}]}`},
		{"bare array", `[{"pages":{"start":1,"end":3},"split_type":"deed"},{"start_page":4,"end_page":6}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			segs, err := normalizeSplit([]byte(tc.blob))
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if len(segs) != 2 {
				t.Fatalf("segments = %+v", segs)
			}
			if segs[0].Pages != (packet.PageRange{Start: 1, End: 3}) || segs[0].SplitType != "deed" {
				t.Fatalf("first segment = %+v", segs[0])
			}
			if segs[1].Pages != (packet.PageRange{Start: 4, End: 6}) {
				t.Fatalf("second segment = %+v", segs[1])
			}
		})
	}
}

func TestNormalizeSplitRejectsEmptyEnvelope(t *testing.T) {
	if _, err := normalizeSplit([]byte(`{"ok":true}`)); err == nil {
		t.Fatal("missing segments must be rejected")
	}
}

func TestNormalizeClassification(t *testing.T) {
	cls, err := normalizeClassification([]byte(`{"category":"deed","confidence":0.92,"reasoning":"warranty deed language"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cls.Category != "deed" || cls.Confidence != 0.92 {
		t.Fatalf("classification = %+v", cls)
	}

	nested, err := normalizeClassification([]byte(`{"classification":{"category":"mortgage","confidence":1.3}}`))
	if err != nil {
		t.Fatalf("normalize nested: %v", err)
	}
	if nested.Category != "mortgage" || nested.Confidence != 1.0 {
		t.Fatalf("nested classification = %+v", nested)
	}

	if _, err := normalizeClassification([]byte(`{}`)); err == nil {
		t.Fatal("missing category must be rejected")
	}
}
