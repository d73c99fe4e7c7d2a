// Package extract segments raw prescription text into medication entries and
// pulls structured fields out of them via an ordered fallback cascade.
package extract

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/saharacare/go-rxmind/internal/timing"
)

// Entry is a single extracted medication. Name is required; an entry is only
// retained when at least one of the other fields is populated.
type Entry struct {
	Name      string          `json:"name"`
	Dose      string          `json:"dose,omitempty"`
	Frequency string          `json:"frequency,omitempty"`
	Duration  string          `json:"duration,omitempty"`
	Meal      string          `json:"meal_instruction,omitempty"`
	Windows   []timing.Window `json:"time_windows,omitempty"`
}

// hasDetail reports whether the entry carries enough information to keep.
func (e Entry) hasDetail() bool {
	return e.Name != "" &&
		(e.Dose != "" || e.Frequency != "" || e.Duration != "" || e.Meal != "")
}

// Lookup verifies candidate names against the medication knowledge base.
type Lookup interface {
	Lookup(ctx context.Context, raw string) (string, bool)
}

var (
	reSectionMarker = regexp.MustCompile(`(^|\s)R[xX](\s|$)|Medicine|Medication|TAB\.|CAP\.|Tablet|Dosage`)
	reListMarker    = regexp.MustCompile(`^\s*(?:\d+[\).]|[*\-])\s*`)
	reHeader        = regexp.MustCompile(`(?i)(^|\s)(Advice|Follow|Doctor|Instructions|Review)(:|\s*$)`)

	reDose      = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s*(?:mg|g|ml|mcg|tablet|tab|capsule|cap|pill)s?)|(\d+/\d+\s*(?:Morning|Night|Evening))`)
	reFrequency = regexp.MustCompile(`(?i)\d+\s*times?\s*(?:a|per)\s*day|every\s*\d+\s*hours?|twice\s*daily|once\s*daily|daily|morning|evening|night|afternoon|\b(?:tid|bid|qid|qd)\b|q\d+h|\d+\s*(?:Morning|Night|Evening|Aft|Eve)|\d+\s*-\s*\d+\s*-\s*\d+|\d+\s*\+\s*\d+|\d+\s*when\s*required`)
	reDuration  = regexp.MustCompile(`(?i)(?:for|x)?\s*(\d+\s*(?:days?|weeks?|months?|years?)|Tot[:.]\s*\d+\s*(?:Tab|Cap))`)

	reBeforeFood = regexp.MustCompile(`(?i)before\s*(?:food|meals?)|empty\s*stomach`)
	reAfterFood  = regexp.MustCompile(`(?i)after\s*(?:food|meals?)`)
	reWithFood   = regexp.MustCompile(`(?i)with\s*(?:food|meals?)`)

	reCapitalizedName = regexp.MustCompile(`([A-Z][A-Za-z]+(?:[ \-][A-Za-z]+)*)\s*[(\d-]`)
	reMarkerName      = regexp.MustCompile(`(?i)(?:TAB\.|CAP\.|Tablet|Capsule)[:\s]+([A-Za-z]+(?:[ \-][A-Za-z]+)*)`)
	reLeadingForm     = regexp.MustCompile(`(?i)^(?:tab|cap|tablet|capsule|syrup|inj)\.?\s+`)
)

// abbreviation expansions fill the frequency field when no explicit frequency
// pattern matched. Order matters: the first match wins.
var abbreviations = []struct {
	re        *regexp.Regexp
	expansion string
}{
	{regexp.MustCompile(`(?i)\bqd\b`), "once daily"},
	{regexp.MustCompile(`(?i)\bbid\b`), "twice daily"},
	{regexp.MustCompile(`(?i)\btid\b`), "three times daily"},
	{regexp.MustCompile(`(?i)\bqid\b`), "four times daily"},
	{regexp.MustCompile(`(?i)\bprn\b`), "as needed"},
	{regexp.MustCompile(`(?i)\bq4h\b`), "every 4 hours"},
	{regexp.MustCompile(`(?i)\bq6h\b`), "every 6 hours"},
	{regexp.MustCompile(`(?i)\bq8h\b`), "every 8 hours"},
	{regexp.MustCompile(`(?i)\bq12h\b`), "every 12 hours"},
	{regexp.MustCompile(`(?i)\bac\b`), "before meals"},
	{regexp.MustCompile(`(?i)\bpc\b`), "after meals"},
	{regexp.MustCompile(`(?i)\bod\b`), "once daily"},
	{regexp.MustCompile(`(?i)\bbd\b`), "twice daily"},
	{regexp.MustCompile(`(?i)\btds\b`), "three times daily"},
	{regexp.MustCompile(`(?i)\bqds\b`), "four times daily"},
	{regexp.MustCompile(`(?i)\bsos\b`), "as needed"},
}

// Extractor turns OCR text into medication entries.
type Extractor struct {
	kb     Lookup
	logger *zap.Logger
}

// New creates an extractor backed by the given knowledge base.
func New(kb Lookup, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{kb: kb, logger: logger}
}

// Extract runs the structured pass and, when it yields nothing, the
// aggressive sliding-window fallback.
func (x *Extractor) Extract(ctx context.Context, text string) []Entry {
	section := locateSection(text)

	var entries []Entry
	for _, candidate := range segment(section) {
		if len(strings.TrimSpace(candidate)) < 5 || reHeader.MatchString(candidate) {
			continue
		}

		name, ok := x.extractName(ctx, candidate)
		if !ok {
			continue
		}

		entry := Entry{Name: name}
		extractFields(candidate, &entry)
		if entry.hasDetail() {
			entries = append(entries, entry)
		}
	}

	if len(entries) == 0 {
		entries = x.aggressiveScan(ctx, section)
	}

	x.logger.Debug("extraction finished", zap.Int("entries", len(entries)))
	return entries
}

// locateSection finds the prescription section: everything from the first
// line carrying an Rx or medicine marker onward, or the whole text.
func locateSection(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if reSectionMarker.MatchString(line) {
			return strings.Join(lines[i:], "\n")
		}
	}
	return text
}

// segment splits the section into candidate entries. Numbered or bulleted
// list items are preferred: an item runs from its marker to the next marker,
// a blank line or a header line. Without any list markers, non-trivial lines
// are the candidates.
func segment(section string) []string {
	lines := strings.Split(section, "\n")

	var items []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			items = append(items, strings.Join(current, " "))
			current = nil
		}
	}

	for _, line := range lines {
		switch {
		case reListMarker.MatchString(line):
			flush()
			current = []string{strings.TrimSpace(reListMarker.ReplaceAllString(line, ""))}
		case strings.TrimSpace(line) == "" || reHeader.MatchString(line):
			flush()
		case current != nil:
			current = append(current, strings.TrimSpace(line))
		}
	}
	flush()

	if len(items) > 0 {
		return items
	}

	var fallback []string
	for _, line := range lines {
		if len(strings.TrimSpace(line)) > 5 {
			fallback = append(fallback, line)
		}
	}
	return fallback
}

// extractName runs the name strategies in order; the first success wins.
func (x *Extractor) extractName(ctx context.Context, candidate string) (string, bool) {
	for _, strategy := range []func(context.Context, string) (string, bool){
		x.capitalizedRunName,
		x.markerName,
		x.verifiedPrefixName,
	} {
		if name, ok := strategy(ctx, candidate); ok {
			return name, true
		}
	}
	return "", false
}

// capitalizedRunName matches a capitalized word run immediately followed by a
// digit, parenthesis or dash, canonicalized through the knowledge base when
// possible.
func (x *Extractor) capitalizedRunName(ctx context.Context, candidate string) (string, bool) {
	m := reCapitalizedName.FindStringSubmatch(candidate)
	if m == nil {
		return "", false
	}
	raw := reLeadingForm.ReplaceAllString(strings.TrimSpace(m[1]), "")
	if raw == "" {
		return "", false
	}
	return x.canonicalOrRaw(ctx, raw), true
}

// markerName matches text following a TAB./CAP./Tablet/Capsule marker. The
// capture may run past the name, so it is narrowed to the shortest
// knowledge-base verified prefix, falling back to the first word.
func (x *Extractor) markerName(ctx context.Context, candidate string) (string, bool) {
	m := reMarkerName.FindStringSubmatch(candidate)
	if m == nil {
		return "", false
	}
	words := strings.Fields(m[1])
	if len(words) == 0 {
		return "", false
	}
	for n := 1; n <= 3 && n <= len(words); n++ {
		if name, ok := x.kb.Lookup(ctx, strings.Join(words[:n], " ")); ok {
			return name, true
		}
	}
	return words[0], true
}

// verifiedPrefixName tries the first one to three words of the candidate;
// unlike the earlier strategies it only accepts knowledge-base hits.
func (x *Extractor) verifiedPrefixName(ctx context.Context, candidate string) (string, bool) {
	words := strings.Fields(candidate)
	for n := 1; n <= 3 && n <= len(words); n++ {
		prefix := strings.Join(words[:n], " ")
		if name, ok := x.kb.Lookup(ctx, prefix); ok {
			return name, true
		}
	}
	return "", false
}

func (x *Extractor) canonicalOrRaw(ctx context.Context, raw string) string {
	if name, ok := x.kb.Lookup(ctx, raw); ok {
		return name
	}
	return raw
}

// extractFields fills dose, frequency, duration and meal instruction from the
// candidate text. Each field uses one fixed pattern and takes the first
// match; clinical abbreviations backfill the frequency when it is still
// unset.
func extractFields(candidate string, entry *Entry) {
	entry.Dose = firstGroup(reDose, candidate)
	entry.Frequency = firstGroup(reFrequency, candidate)
	entry.Duration = firstGroup(reDuration, candidate)
	entry.Meal = mealInstruction(candidate)

	if entry.Frequency == "" {
		for _, a := range abbreviations {
			if a.re.MatchString(candidate) {
				entry.Frequency = a.expansion
				break
			}
		}
	}
}

// mealInstruction applies the three mutually exclusive meal patterns.
func mealInstruction(candidate string) string {
	switch {
	case reBeforeFood.MatchString(candidate):
		return timing.MealBefore
	case reAfterFood.MatchString(candidate):
		return timing.MealAfter
	case reWithFood.MatchString(candidate):
		return timing.MealWith
	}
	return ""
}

// aggressiveScan re-scans every retained line with a 1-4 word sliding window
// against the knowledge base. The first hit per line becomes an entry with
// whatever dose, frequency and duration patterns appear nearby, kept under
// the same minimum-information rule.
func (x *Extractor) aggressiveScan(ctx context.Context, section string) []Entry {
	var entries []Entry

	for _, line := range strings.Split(section, "\n") {
		if len(strings.TrimSpace(line)) <= 5 || reHeader.MatchString(line) {
			continue
		}

		words := strings.Fields(line)
		found := false
		for i := 0; i < len(words) && !found; i++ {
			for j := i + 1; j <= len(words) && j <= i+4; j++ {
				phrase := strings.Join(words[i:j], " ")
				if len(phrase) <= 3 {
					continue
				}
				name, ok := x.kb.Lookup(ctx, phrase)
				if !ok {
					continue
				}

				entry := Entry{Name: name}
				entry.Dose = firstGroup(reDose, line)
				entry.Frequency = firstGroup(reFrequency, line)
				entry.Duration = firstGroup(reDuration, line)
				if entry.hasDetail() {
					entries = append(entries, entry)
				}
				found = true
				break
			}
		}
	}

	return entries
}

// firstGroup returns the first non-empty capture group of the first match,
// falling back to the whole match when the pattern has no groups.
func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return strings.TrimSpace(g)
		}
	}
	return strings.TrimSpace(m[0])
}
