package suggest

import (
	"sort"
	"strings"

	"github.com/freedeaths/tidbcloud-skills/internal/knowledge"
)

// synonyms maps intent phrasings onto catalog vocabulary. Matching is on
// the raw lowercased intent so multi-word phrases like "scale out" work.
var synonyms = map[string][]string{
	"scale out":  {"update"},
	"scale in":   {"update"},
	"scale up":   {"update"},
	"scale down": {"update"},
	"resize":     {"update"},
	"change":     {"update"},
	"remove":     {"delete"},
	"destroy":    {"delete"},
	"drop":       {"delete"},
	"tear down":  {"delete"},
	"stop":       {"pause"},
	"suspend":    {"pause"},
	"start":      {"resume"},
	"wake":       {"resume"},
	"unpause":    {"resume"},
	"show":       {"get"},
	"describe":   {"get"},
	"status":     {"get"},
	"check":      {"get"},
	"make":       {"create"},
	"new":        {"create"},
	"provision":  {"create"},
	"spin up":    {"create"},
	"launch":     {"create"},
	"all":        {"list"},
}

// ExpandKeywords tokenizes the intent and appends synonym-mapped catalog
// vocabulary, deduplicated, base tokens first.
func ExpandKeywords(intent string) []string {
	keywords := knowledge.IntentKeywords(intent)
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		seen[kw] = struct{}{}
	}
	lower := strings.ToLower(intent)
	var extra []string
	for phrase, adds := range synonyms {
		if !strings.Contains(lower, phrase) {
			continue
		}
		for _, add := range adds {
			if _, ok := seen[add]; ok {
				continue
			}
			seen[add] = struct{}{}
			extra = append(extra, add)
		}
	}
	sort.Strings(extra)
	return append(keywords, extra...)
}
