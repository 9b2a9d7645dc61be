package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Composer builds the exact request text for one sample at one round.
// The output-format instruction never changes between rounds, so the
// parser's expectations stay stable for the whole run.
type Composer struct {
	checker *ConvergenceChecker
}

// NewComposer creates a composer. The checker supplies the
// relative-change trail shown in round-R history sections.
func NewComposer(checker *ConvergenceChecker) *Composer {
	return &Composer{checker: checker}
}

// ComposeInput is everything needed to build one request.
type ComposeInput struct {
	Sample     Sample
	References []Reference
	Properties []string
	Round      int
	State      *SampleRunState // read-only; nil on round 1
}

// Compose renders the request text. Optional sections with no content
// omit their heading entirely rather than printing an empty label.
func (c *Composer) Compose(in ComposeInput) string {
	var b strings.Builder

	b.WriteString("You are a materials property prediction assistant. ")
	b.WriteString("Estimate the target properties of the sample described below.\n\n")

	b.WriteString("Sample Features:\n")
	writeFeatures(&b, "- ", in.Sample.Features)
	if in.Sample.Processing != "" {
		fmt.Fprintf(&b, "Processing: %s\n", in.Sample.Processing)
	}
	b.WriteString("\n")

	if len(in.References) > 0 {
		b.WriteString("Reference Samples:\n")
		for i, ref := range in.References {
			fmt.Fprintf(&b, "%d. (similarity %s)\n", i+1, formatFloat(ref.Similarity))
			b.WriteString("   Features: ")
			writeInlineValues(&b, ref.Features)
			b.WriteString("\n")
			if ref.Processing != "" {
				fmt.Fprintf(&b, "   Processing: %s\n", ref.Processing)
			}
			b.WriteString("   Known Values: ")
			writeInlineValues(&b, ref.KnownValues)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if in.Round > 1 && in.State != nil {
		if history := c.historySection(in); history != "" {
			b.WriteString(history)
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "Target Properties: %s\n\n", strings.Join(in.Properties, ", "))

	b.WriteString("Output Format:\n")
	b.WriteString("Respond with exactly one JSON object of the form {\"predictions\": {")
	for i, p := range in.Properties {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: <number>", p)
	}
	b.WriteString("}}. Do not emit any other JSON object.\n")

	return b.String()
}

// historySection shows, per property, the ordered prior predictions
// and their pairwise relative-change trail, plus the trend-reconciling
// instruction. Properties with no recorded values are skipped; an
// entirely empty history omits the heading.
func (c *Composer) historySection(in ComposeInput) string {
	var b strings.Builder
	wrote := false
	for _, p := range in.Properties {
		rec, ok := in.State.Records[p]
		if !ok || len(rec.Values) == 0 {
			continue
		}
		if !wrote {
			b.WriteString("Prediction History:\n")
			wrote = true
		}
		fmt.Fprintf(&b, "- %s: previous predictions [%s]", p, joinFloats(rec.Values))
		if trail := c.checker.Trail(rec.Values); len(trail) > 0 {
			fmt.Fprintf(&b, "; relative changes [%s]", joinFloats(trail))
		}
		b.WriteString("\n")
	}
	if !wrote {
		return ""
	}
	b.WriteString("For each property, decide whether the prediction trail is converging, oscillating, or diverging, and reconcile that trend before producing a refined value.\n")
	return b.String()
}

func writeFeatures(b *strings.Builder, prefix string, features map[string]float64) {
	for _, k := range sortedKeys(features) {
		fmt.Fprintf(b, "%s%s: %s\n", prefix, k, formatFloat(features[k]))
	}
}

func writeInlineValues(b *strings.Builder, values map[string]float64) {
	for i, k := range sortedKeys(values) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s: %s", k, formatFloat(values[k]))
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ", ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
