package corpus

import (
	"regexp"
	"strings"

	"github.com/khanglvm/tool-router/internal/registry"
)

var slotPattern = regexp.MustCompile(`\{(\w+)\}`)

// paraphrasePatterns wrap an utterance in common phrasings. The identity
// pattern comes first so the literal utterance is always in the corpus.
var paraphrasePatterns = []struct {
	prefix string
	suffix string
}{
	{"", ""},
	{"please ", ""},
	{"can you ", ""},
	{"i need to ", ""},
	{"", " for me"},
	{"could you ", ""},
	{"i want to ", ""},
	{"", " right now"},
}

type variant struct {
	text string
	args map[string]string
}

// expand turns one example utterance into up to perUtterance paraphrases.
// Utterances with {slot} placeholders are grounded with the argument spec's
// example values; the slot values rotate across paraphrases so the corpus
// does not over-fit one filler.
func expand(utterance string, desc registry.ToolDescriptor, perUtterance int) []variant {
	if perUtterance <= 0 {
		perUtterance = 1
	}
	if perUtterance > len(paraphrasePatterns) {
		perUtterance = len(paraphrasePatterns)
	}

	slots := slotPattern.FindAllStringSubmatch(utterance, -1)

	variants := make([]variant, 0, perUtterance)
	for i := 0; i < perUtterance; i++ {
		text := utterance
		args := make(map[string]string, len(slots))
		for _, m := range slots {
			name := m[1]
			value := slotValue(desc, name, i)
			if value == "" {
				continue
			}
			text = strings.Replace(text, m[0], value, 1)
			args[name] = value
		}
		if slotPattern.MatchString(text) {
			// A slot had no example values to ground it; the utterance
			// would train the classifier on a literal placeholder.
			continue
		}

		p := paraphrasePatterns[i]
		variants = append(variants, variant{
			text: p.prefix + text + p.suffix,
			args: args,
		})
	}
	return variants
}

// slotValue picks the i-th example value for a named argument, wrapping
// around when paraphrases outnumber examples.
func slotValue(desc registry.ToolDescriptor, name string, i int) string {
	spec, ok := desc.ArgumentSchema[name]
	if !ok || len(spec.Examples) == 0 {
		return ""
	}
	return spec.Examples[i%len(spec.Examples)]
}
