package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

// ParseResult holds whatever could be extracted from a model response.
// Failure paths land in Errors; ParseResponse never panics on
// malformed input.
type ParseResult struct {
	Values     map[string]float64
	Confidence string // "", "high", "medium", or "low"
	Errors     []string
	Strategy   string // name of the strategy that produced Values
}

// Complete reports whether every expected property was extracted.
func (r ParseResult) Complete() bool {
	return len(r.Errors) == 0
}

// parseStrategy is one way of reading predictions out of model text.
// Strategies are tried in priority order; the first applicable one
// wins and no later strategy fills its gaps.
type parseStrategy struct {
	name  string
	apply func(candidates []jsonCandidate, raw string, properties []string) (map[string]float64, string, bool)
}

var strategies = []parseStrategy{
	{name: "predictions_object", apply: parsePredictionsObject},
	{name: "flat_object", apply: parseFlatObject},
	{name: "single_value", apply: parseSingleValue},
	{name: "free_text", apply: parseFreeText},
}

// ParseResponse extracts a property→value mapping from raw model text.
// Missing expected properties produce one error entry each.
func ParseResponse(raw string, properties []string) ParseResult {
	result := ParseResult{Values: map[string]float64{}}
	if strings.TrimSpace(raw) == "" {
		for _, p := range properties {
			result.Errors = append(result.Errors, fmt.Sprintf("property %s not found: empty response", p))
		}
		return result
	}

	candidates := jsonCandidates(raw)

	for _, s := range strategies {
		values, confidence, ok := s.apply(candidates, raw, properties)
		if !ok {
			continue
		}
		result.Values = values
		result.Confidence = normalizeConfidence(confidence)
		result.Strategy = s.name
		break
	}

	for _, p := range properties {
		if _, ok := result.Values[p]; !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("property %s not found in response", p))
		}
	}

	if result.Strategy != "" {
		logging.Parser("parsed %d/%d properties via %s", len(result.Values), len(properties), result.Strategy)
	}
	return result
}

// jsonCandidate is one balanced JSON object found in the text, already
// decoded. Candidates are ordered by length so the smallest well-formed
// object satisfying a schema wins; the first and last brace of a
// response frequently do NOT delimit the object of interest.
type jsonCandidate struct {
	text string
	obj  map[string]any
}

// jsonCandidates scans the text for balanced top-level objects starting
// at every opening brace, string-aware so braces inside string values
// do not break the depth count.
func jsonCandidates(raw string) []jsonCandidate {
	var out []jsonCandidate
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		end := balancedEnd(raw, i)
		if end < 0 {
			continue
		}
		text := raw[i : end+1]
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			continue
		}
		out = append(out, jsonCandidate{text: text, obj: obj})
	}
	sort.SliceStable(out, func(a, b int) bool { return len(out[a].text) < len(out[b].text) })
	return out
}

// balancedEnd returns the index of the brace closing the object opened
// at start, or -1.
func balancedEnd(raw string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parsePredictionsObject handles {"predictions": {...}} where entries
// are raw numbers or objects with a "value" field. Prefers a candidate
// covering every expected property; falls back to the smallest partial
// match, so a stray partial object earlier in the text cannot shadow a
// complete one.
func parsePredictionsObject(candidates []jsonCandidate, _ string, properties []string) (map[string]float64, string, bool) {
	var partial map[string]float64
	var partialConfidence string
	for _, cand := range candidates {
		preds, ok := cand.obj["predictions"].(map[string]any)
		if !ok {
			continue
		}
		values := map[string]float64{}
		for _, p := range properties {
			entry, ok := preds[p]
			if !ok {
				continue
			}
			if v, ok := asFloat(entry); ok {
				values[p] = v
				continue
			}
			if wrapped, ok := entry.(map[string]any); ok {
				if v, ok := asFloat(wrapped["value"]); ok {
					values[p] = v
				}
			}
		}
		if len(values) == len(properties) {
			confidence, _ := cand.obj["confidence"].(string)
			return values, confidence, true
		}
		if len(values) > 0 && partial == nil {
			partial = values
			partialConfidence, _ = cand.obj["confidence"].(string)
		}
	}
	if partial != nil {
		return partial, partialConfidence, true
	}
	return nil, "", false
}

// parseFlatObject handles an object with one numeric field per expected
// property name. Prefers a candidate covering every property; falls
// back to the smallest partial match.
func parseFlatObject(candidates []jsonCandidate, _ string, properties []string) (map[string]float64, string, bool) {
	var partial map[string]float64
	var partialConfidence string
	for _, cand := range candidates {
		values := map[string]float64{}
		for _, p := range properties {
			if v, ok := asFloat(cand.obj[p]); ok {
				values[p] = v
			}
		}
		if len(values) == len(properties) {
			confidence, _ := cand.obj["confidence"].(string)
			return values, confidence, true
		}
		if len(values) > 0 && partial == nil {
			partial = values
			partialConfidence, _ = cand.obj["confidence"].(string)
		}
	}
	if partial != nil {
		return partial, partialConfidence, true
	}
	return nil, "", false
}

// parseSingleValue handles a single-entry object, valid only when
// exactly one property is expected. The key need not match the
// property name.
func parseSingleValue(candidates []jsonCandidate, _ string, properties []string) (map[string]float64, string, bool) {
	if len(properties) != 1 {
		return nil, "", false
	}
	for _, cand := range candidates {
		if len(cand.obj) != 1 {
			continue
		}
		for _, entry := range cand.obj {
			if v, ok := asFloat(entry); ok {
				return map[string]float64{properties[0]: v}, "", true
			}
		}
	}
	return nil, "", false
}

var numberPattern = `(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)`

// parseFreeText extracts numbers keyed by property name from prose.
// Last resort only.
func parseFreeText(_ []jsonCandidate, raw string, properties []string) (map[string]float64, string, bool) {
	values := map[string]float64{}
	for _, p := range properties {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(p) + `[^\d+-]{0,30}` + numberPattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			values[p] = v
		}
	}
	if len(values) == 0 {
		return nil, "", false
	}
	return values, "", true
}

// asFloat converts a decoded JSON value to float64. Numeric strings
// are tolerated because models sometimes quote numbers.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// normalizeConfidence maps free-form confidence text onto the
// high/medium/low vocabulary. Exact matches pass through; otherwise a
// value containing one of the words resolves to it, preferring
// high > medium > low when several appear.
func normalizeConfidence(raw string) string {
	c := strings.ToLower(strings.TrimSpace(raw))
	switch c {
	case "", "high", "medium", "low":
		return c
	}
	for _, level := range []string{"high", "medium", "low"} {
		if strings.Contains(c, level) {
			return level
		}
	}
	return ""
}
