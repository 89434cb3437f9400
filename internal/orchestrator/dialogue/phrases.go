// Package dialogue splits captured text into speaker and content and
// recognises the game's dialogue shapes: named lines, narration, quoted
// speech and choice prompts.
package dialogue

// ChoicePhrases are the prompts the game shows above a list of replies.
// They may be followed by options on the same line.
var ChoicePhrases = []string{
	"What will you say?",
}

// FuzzyThreshold is the minimum similarity for an OCR-mangled prompt to
// still count as a choice prompt.
const FuzzyThreshold = 0.75

// PrefixThreshold applies instead when the prompt is followed by more text
// on the same line. A looser match there would swallow the opening words
// of ordinary questions such as "What will you do now?".
const PrefixThreshold = 0.9

// narrativeFillers are words that are common in narration and rare in
// short spoken lines.
var narrativeFillers = map[string]struct{}{
	"the": {}, "and": {}, "was": {}, "were": {}, "had": {}, "his": {}, "her": {},
	"their": {}, "its": {}, "into": {}, "upon": {}, "then": {}, "while": {},
	"toward": {}, "towards": {}, "suddenly": {}, "slowly": {}, "as": {},
}

// ocrConfusions maps characters OCR commonly substitutes for letters.
var ocrConfusions = map[rune]rune{
	'0': 'o',
	'1': 'l',
	'|': 'l',
	'5': 's',
	'$': 's',
	'@': 'a',
}

// quoteRunes open or close quoted speech.
const quoteRunes = "\"“”„「」『』«»"

const (
	maxNameLen    = 25 // rule-1 name area text must be shorter
	minBodyLen    = 3  // rule-1 body area text must be longer
	minQuotedLen  = 5
	minNarrLen    = 20
	minNarrFiller = 2
)
