package router

import (
	"regexp"
	"strings"
	"sync"

	"github.com/khanglvm/tool-router/internal/classifier"
	"github.com/khanglvm/tool-router/internal/registry"
)

var slotPattern = regexp.MustCompile(`\{(\w+)\}`)

// templateCache caches compiled utterance templates keyed by template text.
var templateCache sync.Map

type compiledTemplate struct {
	re    *regexp.Regexp
	slots []string
}

// ExtractArguments matches the query against the tool's utterance templates
// and pulls argument values out of the slot positions. Returns nil when no
// template matches; callers fall back to schema-less routing and let the
// tool surface its own validation error.
func ExtractArguments(desc registry.ToolDescriptor, query string) map[string]string {
	normalized := classifier.Normalize(query)

	for _, utterance := range desc.ExampleUtterances {
		ct := compileTemplate(utterance)
		if ct == nil {
			continue
		}
		m := ct.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}

		args := make(map[string]string, len(ct.slots))
		for i, slot := range ct.slots {
			value := strings.TrimSpace(m[i+1])
			if value == "" {
				args = nil
				break
			}
			args[slot] = value
		}
		if len(args) > 0 {
			return args
		}
		if len(ct.slots) == 0 {
			// Slot-free template matched; nothing to extract.
			return nil
		}
	}
	return nil
}

// compileTemplate turns "deploy {service} to production" into an anchored
// regexp with one capture group per slot. Common politeness prefixes and
// suffixes are tolerated so "please deploy billing to production" still
// matches.
func compileTemplate(utterance string) *compiledTemplate {
	if cached, ok := templateCache.Load(utterance); ok {
		return cached.(*compiledTemplate)
	}

	normalized := classifier.Normalize(utterance)
	var slots []string
	var sb strings.Builder
	sb.WriteString(`^(?:please |can you |could you |i want to |i need to )?`)

	rest := normalized
	for {
		loc := slotPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			sb.WriteString(regexp.QuoteMeta(rest))
			break
		}
		sb.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
		sb.WriteString(`(.+?)`)
		slots = append(slots, rest[loc[2]:loc[3]])
		rest = rest[loc[1]:]
	}
	sb.WriteString(`(?: for me| right now| now)?$`)

	re, err := regexp.Compile(sb.String())
	if err != nil {
		templateCache.Store(utterance, (*compiledTemplate)(nil))
		return nil
	}

	ct := &compiledTemplate{re: re, slots: slots}
	templateCache.Store(utterance, ct)
	return ct
}
