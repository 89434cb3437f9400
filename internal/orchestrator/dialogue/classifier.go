package dialogue

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Config configures a Classifier.
type Config struct {
	// UnknownSpeaker is the sentinel published for masked names.
	UnknownSpeaker string
	// Overrides are literal texts that always count as masked.
	Overrides []string
	// Phrases are extra choice prompts on top of ChoicePhrases. They only
	// match a whole first line, so spoken questions that start the same way
	// stay dialogue.
	Phrases []string
	// Threshold replaces FuzzyThreshold when > 0.
	Threshold float64
}

// Classifier is stateless after construction and safe for concurrent use.
type Classifier struct {
	unknown   string
	overrides map[string]struct{}
	phrases   []phrase
	threshold float64
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	c := &Classifier{
		unknown:   cfg.UnknownSpeaker,
		overrides: make(map[string]struct{}, len(cfg.Overrides)),
		threshold: cfg.Threshold,
	}
	if c.unknown == "" {
		c.unknown = "???"
	}
	if c.threshold <= 0 {
		c.threshold = FuzzyThreshold
	}
	for _, o := range cfg.Overrides {
		c.overrides[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	for _, p := range ChoicePhrases {
		c.phrases = append(c.phrases, phrase{text: normalize(p)})
	}
	for _, p := range cfg.Phrases {
		if n := normalize(p); n != "" {
			c.phrases = append(c.phrases, phrase{text: n, wholeLine: true})
		}
	}
	return c
}

type phrase struct {
	text      string // normalized
	wholeLine bool
}

// UnknownSpeaker returns the masked-name sentinel.
func (c *Classifier) UnknownSpeaker() string { return c.unknown }

// ClassifyCandidate classifies a stable candidate. When the candidate was
// merged from a name area (or a bridge speaker) and a body, a plausible
// name makes it a normal line; otherwise the text alone decides.
func (c *Classifier) ClassifyCandidate(cand types.StableCandidate, previousSpeaker string) types.Classification {
	name := strings.TrimSpace(cand.Name)
	body := strings.TrimSpace(cand.Body)
	if name != "" && len([]rune(body)) > minBodyLen {
		if c.IsMasked(name) {
			return types.Classification{Speaker: c.unknown, Content: body, Kind: types.KindNormal}
		}
		if len([]rune(name)) < maxNameLen && isNameLike(name) {
			return types.Classification{Speaker: name, Content: body, Kind: types.KindNormal}
		}
	}
	text := cand.Text
	if body != "" {
		text = body
	}
	return c.Classify(text, previousSpeaker)
}

// Classify applies the text rules in priority order.
func (c *Classifier) Classify(text, previousSpeaker string) types.Classification {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Classification{Kind: types.KindUnknown}
	}
	if c.IsMasked(text) {
		return types.Classification{Speaker: c.unknown, Content: c.unknown, Kind: types.KindUnknown, Masked: true}
	}

	if rest, ok := c.matchChoicePrompt(text); ok {
		return types.Classification{Content: text, Kind: types.KindChoice, Choices: SplitOptions(rest)}
	}

	if m := speakerRe.FindStringSubmatch(text); m != nil {
		speaker := strings.TrimSpace(m[1])
		if c.IsMasked(speaker) {
			speaker = c.unknown
		}
		return types.Classification{Speaker: speaker, Content: strings.TrimSpace(m[2]), Kind: types.KindSpeakerInText}
	}
	if m := maskedSpeakerRe.FindStringSubmatch(text); m != nil && c.IsMasked(m[1]) {
		return types.Classification{Speaker: c.unknown, Content: strings.TrimSpace(m[2]), Kind: types.KindSpeakerInText}
	}

	n := len([]rune(text))
	if strings.ContainsAny(text, quoteRunes) && n > minQuotedLen {
		return types.Classification{Speaker: previousSpeaker, Content: text, Kind: types.KindDialogWithoutName}
	}
	if n > minNarrLen && !startsWithQuote(text) && fillerCount(text) >= minNarrFiller {
		return types.Classification{Content: text, Kind: types.KindNarration}
	}
	return types.Classification{Content: text, Kind: types.KindUnknown}
}

// IsMasked reports whether s is a masked-name placeholder: only '2's, only
// '?'s, or a configured override.
func (c *Classifier) IsMasked(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if _, ok := c.overrides[strings.ToLower(s)]; ok {
		return true
	}
	return repeated(s, '2') || repeated(s, '?')
}

func repeated(s string, r rune) bool {
	for _, x := range s {
		if x != r {
			return false
		}
	}
	return true
}

var (
	// "Name: content" with a capitalised name of at most 25 characters.
	speakerRe = regexp.MustCompile(`(?s)^([\p{Lu}][\p{L}' .-]{0,24}?)\s*[:：]\s*(.+)$`)
	// Masked names are digits or question marks, which speakerRe rejects.
	maskedSpeakerRe = regexp.MustCompile(`(?s)^([2?]{2,})\s*[:：]\s*(.+)$`)
)

func isNameLike(s string) bool {
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
		case r == ' ' || r == '\'' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return letters > 0
}

func startsWithQuote(s string) bool {
	for _, r := range s {
		return strings.ContainsRune(quoteRunes, r)
	}
	return false
}

func fillerCount(s string) int {
	n := 0
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) }) {
		if _, ok := narrativeFillers[w]; ok {
			n++
		}
	}
	return n
}

// matchChoicePrompt checks whether the first line opens with a choice
// prompt and returns the text after it. The prompt may be followed by
// options on the same line when OCR loses the line break.
func (c *Classifier) matchChoicePrompt(text string) (string, bool) {
	first, rest, _ := strings.Cut(text, "\n")
	words := strings.Fields(first)

	bestK, bestSim := 0, 0.0
	for k := 1; k <= len(words); k++ {
		prefix := normalize(strings.Join(words[:k], " "))
		for _, p := range c.phrases {
			if p.wholeLine && k < len(words) {
				continue
			}
			sim := similarity(prefix, p.text)
			if k < len(words) && sim < PrefixThreshold {
				continue
			}
			if sim > bestSim {
				bestK, bestSim = k, sim
			}
		}
	}
	if bestSim < c.threshold {
		return "", false
	}

	remainder := strings.Join(words[bestK:], " ")
	if rest = strings.TrimSpace(rest); rest != "" {
		if remainder != "" {
			remainder += "\n"
		}
		remainder += rest
	}
	return remainder, true
}

// normalize lowercases, undoes common OCR substitutions, drops
// punctuation and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if m, ok := ocrConfusions[r]; ok {
			r = m
		}
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// similarity is 1 - edit distance / longer length.
func similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

var (
	markerRe   = regexp.MustCompile(`(?:^|\s)(?:\d{1,2}|[A-Ha-h])[.)]\s`)
	sentenceRe = regexp.MustCompile(`[.!?…。！？]+\s+`)
)

// SplitOptions splits the text after a choice prompt into options: one per
// line, else one per "1." / "A." marker, else one per sentence.
func SplitOptions(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	switch len(lines) {
	case 0:
		return nil
	case 1:
	default:
		return lines
	}

	line := lines[0]
	if opts := splitMarkers(line); len(opts) > 1 {
		return opts
	}
	return splitSentences(line)
}

func splitMarkers(line string) []string {
	idx := markerRe.FindAllStringIndex(line, -1)
	if len(idx) < 2 {
		return nil
	}
	starts := make([]int, 0, len(idx)+1)
	if idx[0][0] > 0 && strings.TrimSpace(line[:idx[0][0]]) != "" {
		starts = append(starts, 0)
	}
	for _, m := range idx {
		start := m[0]
		if unicode.IsSpace(rune(line[start])) {
			start++
		}
		starts = append(starts, start)
	}
	return cut(line, starts)
}

func splitSentences(line string) []string {
	starts := []int{0}
	for _, m := range sentenceRe.FindAllStringIndex(line, -1) {
		if m[1] < len(line) {
			starts = append(starts, m[1])
		}
	}
	return cut(line, starts)
}

func cut(line string, starts []int) []string {
	var out []string
	for i, s := range starts {
		end := len(line)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if part := strings.TrimSpace(line[s:end]); part != "" {
			out = append(out, part)
		}
	}
	return slices.Clip(out)
}
