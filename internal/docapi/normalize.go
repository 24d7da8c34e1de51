package docapi

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/dleary/packetflow/internal/packet"
)

// The service has shipped several envelope shapes for extraction results.
// Rather than let callers duck-type their way through them, the client folds
// every known shape into ExtractResult here. Paths are tried in order; the
// first hit wins.
var extractionFieldPaths = []string{
	"extraction.content.choices.0.message.parsed",
	"content.choices.0.message.parsed",
	"extraction.parsed",
	"parsed",
	"fields",
}

var likelihoodPaths = []string{
	"extraction.likelihoods",
	"likelihoods",
	"field_likelihoods",
}

var confidencePaths = []string{
	"extraction.confidence",
	"confidence",
	"consensus_confidence",
}

func normalizeExtraction(blob []byte, consensus int) (ExtractResult, error) {
	if !gjson.ValidBytes(blob) {
		return ExtractResult{}, newValidationError(0, "extraction response is not valid JSON")
	}
	root := gjson.ParseBytes(blob)

	var parsed gjson.Result
	for _, path := range extractionFieldPaths {
		if v := root.Get(path); v.Exists() && v.IsObject() {
			parsed = v
			break
		}
	}
	if !parsed.Exists() {
		// Bare object of fields with no envelope at all.
		if root.IsObject() && !root.Get("error").Exists() {
			parsed = root
		} else {
			return ExtractResult{}, newValidationError(0, "extraction response carried no parsed fields")
		}
	}

	res := ExtractResult{
		Fields:      map[string]packet.FieldValue{},
		Likelihoods: map[string]float64{},
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		res.Fields[key.String()] = packet.FromRaw(value.Value())
		return true
	})

	for _, path := range likelihoodPaths {
		if v := root.Get(path); v.Exists() && v.IsObject() {
			v.ForEach(func(key, value gjson.Result) bool {
				// Non-numeric likelihood entries are ignored by design; the
				// scorer only consumes numbers.
				if value.Type == gjson.Number {
					res.Likelihoods[key.String()] = value.Float()
				}
				return true
			})
			break
		}
	}

	// Consensus off means no inter-run agreement exists, so confidence stays
	// nil even if the service echoes a number back.
	if consensus > 1 {
		for _, path := range confidencePaths {
			if v := root.Get(path); v.Exists() && v.Type == gjson.Number {
				conf := clamp01(v.Float())
				res.Confidence = &conf
				break
			}
		}
	}

	if usage := root.Get("usage"); usage.Exists() {
		res.Usage = Usage{
			Pages:   int(usage.Get("pages").Int()),
			Credits: usage.Get("credits").Float(),
			Dollars: usage.Get("dollars").Float(),
		}
	}
	return res, nil
}

func normalizeSplit(blob []byte) ([]SplitSegment, error) {
	root := gjson.ParseBytes(blob)
	segments := root.Get("segments")
	if !segments.Exists() {
		segments = root.Get("documents")
	}
	if !segments.Exists() && root.IsArray() {
		segments = root
	}
	if !segments.Exists() || !segments.IsArray() {
		return nil, newValidationError(0, "split response carried no segments")
	}
	var out []SplitSegment
	segments.ForEach(func(_, seg gjson.Result) bool {
		pages := seg.Get("pages")
		start := int(pages.Get("start").Int())
		end := int(pages.Get("end").Int())
		if start == 0 && end == 0 {
			// Alternate shape: flat start_page/end_page.
			start = int(seg.Get("start_page").Int())
			end = int(seg.Get("end_page").Int())
		}
		out = append(out, SplitSegment{
			Pages:     packet.PageRange{Start: start, End: end},
			SplitType: seg.Get("split_type").String(),
		})
		return true
	})
	return out, nil
}

func normalizeClassification(blob []byte) (Classification, error) {
	var cls Classification
	if err := json.Unmarshal(blob, &cls); err != nil {
		return Classification{}, newValidationError(0, "classification decode: "+err.Error())
	}
	if cls.Category == "" {
		// Older envelope nests the answer.
		root := gjson.ParseBytes(blob)
		if v := root.Get("classification"); v.Exists() {
			cls.Category = v.Get("category").String()
			cls.Confidence = v.Get("confidence").Float()
			cls.Reasoning = v.Get("reasoning").String()
		}
	}
	if cls.Category == "" {
		return Classification{}, newValidationError(0, "classification response carried no category")
	}
	cls.Confidence = clamp01(cls.Confidence)
	return cls, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
