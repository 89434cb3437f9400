package translation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/lorelens/internal/config"
	"github.com/GriffinCanCode/lorelens/pkg/types"
)

// Prompt limits.
const (
	MaxProtectedNames = 20
	MaxGlossaryTerms  = 5
)

const systemPrompt = "You are a professional video game localizer. " +
	"Reply with the translation only, without quotes, notes or explanations."

type promptInput struct {
	kind    types.Kind
	speaker string
	content string
	context []string
	strict  bool
}

func kindNoun(k types.Kind) string {
	switch k {
	case types.KindNarration:
		return "narration"
	case types.KindChoice:
		return "dialogue option"
	default:
		return "game dialogue line"
	}
}

// buildPrompt keeps the text to translate on the final lines.
func (t *Translator) buildPrompt(lore config.Lore, in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following %s from %s to %s.\n", kindNoun(in.kind), t.cfg.SourceLanguage, t.cfg.TargetLanguage)
	if in.strict {
		b.WriteString("The previous translation was incomplete. Translate every sentence in full and do not shorten anything.\n")
	}
	if names := protectedNames(lore.Names, in.content, in.speaker); len(names) > 0 {
		fmt.Fprintf(&b, "Keep these names exactly as written: %s\n", strings.Join(names, ", "))
	}
	if terms := glossaryTerms(lore.Glossary, in.content); len(terms) > 0 {
		b.WriteString("Use these glossary translations:\n")
		for _, g := range terms {
			fmt.Fprintf(&b, "- %s => %s", g.Term, g.Translation)
			if g.Note != "" {
				fmt.Fprintf(&b, " (%s)", g.Note)
			}
			b.WriteByte('\n')
		}
	}
	if in.speaker != "" && in.speaker != t.cfg.UnknownSpeaker {
		fmt.Fprintf(&b, "Speaker: %s", in.speaker)
		if voice := voiceFor(lore.Voices, in.speaker); voice != "" {
			fmt.Fprintf(&b, " (voice: %s)", voice)
		}
		b.WriteByte('\n')
	}
	if len(in.context) > 0 {
		b.WriteString("Recent dialogue, for context only:\n")
		for _, l := range in.context {
			b.WriteString("> " + l + "\n")
		}
	}
	b.WriteString("\nText:\n")
	b.WriteString(in.content)
	return b.String()
}

func (t *Translator) choicePrompt(lore config.Lore, options []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate each numbered dialogue option from %s to %s. ", t.cfg.SourceLanguage, t.cfg.TargetLanguage)
	b.WriteString("Reply with the same numbering, one option per line.\n")
	if names := protectedNames(lore.Names, strings.Join(options, "\n"), ""); len(names) > 0 {
		fmt.Fprintf(&b, "Keep these names exactly as written: %s\n", strings.Join(names, ", "))
	}
	b.WriteByte('\n')
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (t *Translator) namePrompt(name string) string {
	return fmt.Sprintf("Translate this character name from %s to %s. "+
		"If it is a proper name with no common translation, keep it unchanged. Reply with the name only.\n\n%s",
		t.cfg.SourceLanguage, t.cfg.TargetLanguage, name)
}

var numberedRe = regexp.MustCompile(`^\s*(\d+)[.)]\s*(.*)$`)

// parseNumbered maps a numbered reply back onto n options. It fails unless
// every number from 1 to n appears.
func parseNumbered(reply string, n int) ([]string, bool) {
	out := make([]string, n)
	seen := 0
	for _, line := range strings.Split(reply, "\n") {
		m := numberedRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		i, err := strconv.Atoi(m[1])
		if err != nil || i < 1 || i > n || out[i-1] != "" {
			continue
		}
		if text := strings.TrimSpace(m[2]); text != "" {
			out[i-1] = text
			seen++
		}
	}
	return out, seen == n
}

func protectedNames(names []string, content, speaker string) []string {
	var out []string
	for _, n := range names {
		if len(out) == MaxProtectedNames {
			break
		}
		if n == "" {
			continue
		}
		if strings.Contains(content, n) || NormalizeName(n) == NormalizeName(speaker) {
			out = append(out, n)
		}
	}
	return out
}

func glossaryTerms(glossary []config.GlossaryTerm, content string) []config.GlossaryTerm {
	lower := strings.ToLower(content)
	var out []config.GlossaryTerm
	for _, g := range glossary {
		if len(out) == MaxGlossaryTerms {
			break
		}
		if g.Term != "" && strings.Contains(lower, strings.ToLower(g.Term)) {
			out = append(out, g)
		}
	}
	return out
}

func voiceFor(voices map[string]string, speaker string) string {
	if v, ok := voices[speaker]; ok {
		return v
	}
	key := NormalizeName(speaker)
	for name, v := range voices {
		if NormalizeName(name) == key {
			return v
		}
	}
	return ""
}

var speakerPrefixRe = regexp.MustCompile(`^[^:\n]{1,25}:\s*`)

// visibleLength counts runes after dropping a leading "Name:" the model
// may have echoed back.
func visibleLength(s string) int {
	return len([]rune(strings.TrimSpace(speakerPrefixRe.ReplaceAllString(strings.TrimSpace(s), ""))))
}
