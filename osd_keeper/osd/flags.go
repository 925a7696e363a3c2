package osd

import (
	"fmt"
	"sort"
)

var knownFlags = map[string]bool{
	"noout":        true,
	"noin":         true,
	"nodown":       true,
	"noup":         true,
	"noscrub":      true,
	"nodeep-scrub": true,
	"norecover":    true,
	"nobackfill":   true,
	"norebalance":  true,
	"pause":        true,
}

func KnownFlags() []string {
	output := make([]string, 0, len(knownFlags))
	for f := range knownFlags {
		output = append(output, f)
	}
	sort.Strings(output)
	return output
}

// NormalizeFlags rejects unknown cluster flags and returns the rest sorted
// and deduplicated.
func NormalizeFlags(flags []string) ([]string, error) {
	seen := map[string]bool{}
	output := []string{}
	for _, f := range flags {
		if !knownFlags[f] {
			return nil, fmt.Errorf("unknown osd flag %q, should be one of %v", f, KnownFlags())
		}
		if !seen[f] {
			seen[f] = true
			output = append(output, f)
		}
	}
	sort.Strings(output)
	return output, nil
}
