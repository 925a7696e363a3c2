package osd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type RecoveryPriority int

const (
	RecoveryPriorityInvalid RecoveryPriority = iota
	RecoveryPriorityLow
	RecoveryPriorityDefault
	RecoveryPriorityHigh
)

// RecoveryPriorityCustom is reported when the cluster values match no preset.
const RecoveryPriorityCustom = "custom"

var recoveryPriorityNames = map[RecoveryPriority]string{
	RecoveryPriorityLow:     "low",
	RecoveryPriorityDefault: "default",
	RecoveryPriorityHigh:    "high",
}

var recoveryPresets = map[RecoveryPriority]map[string]string{
	RecoveryPriorityLow: {
		"osd_max_backfills":             "1",
		"osd_recovery_max_active":       "1",
		"osd_recovery_max_single_start": "1",
		"osd_recovery_sleep":            "0.5",
	},
	RecoveryPriorityDefault: {
		"osd_max_backfills":             "1",
		"osd_recovery_max_active":       "3",
		"osd_recovery_max_single_start": "1",
		"osd_recovery_sleep":            "0",
	},
	RecoveryPriorityHigh: {
		"osd_max_backfills":             "4",
		"osd_recovery_max_active":       "4",
		"osd_recovery_max_single_start": "4",
		"osd_recovery_sleep":            "0",
	},
}

func (p RecoveryPriority) String() string {
	if name, ok := recoveryPriorityNames[p]; ok {
		return name
	}
	return "invalid"
}

func ParseRecoveryPriority(name string) (RecoveryPriority, error) {
	for p, n := range recoveryPriorityNames {
		if n == name {
			return p, nil
		}
	}
	return RecoveryPriorityInvalid, fmt.Errorf("unknown recovery priority %q, should be one of low, default, high", name)
}

// Values returns a copy of the option values of the preset.
func (p RecoveryPriority) Values() map[string]string {
	output := map[string]string{}
	for k, v := range recoveryPresets[p] {
		output[k] = v
	}
	return output
}

func RecoveryOptionNames() []string {
	return sortedKeys(recoveryPresets[RecoveryPriorityDefault])
}

// RecoveryPriorityOf names the preset matching values, or custom.
func RecoveryPriorityOf(values map[string]string) string {
	for _, p := range []RecoveryPriority{RecoveryPriorityLow, RecoveryPriorityDefault, RecoveryPriorityHigh} {
		matched := true
		for name, want := range recoveryPresets[p] {
			if !sameNumber(values[name], want) {
				matched = false
				break
			}
		}
		if matched {
			return p.String()
		}
	}
	return RecoveryPriorityCustom
}

func sameNumber(a, b string) bool {
	x, err1 := strconv.ParseFloat(a, 64)
	y, err2 := strconv.ParseFloat(b, 64)
	return err1 == nil && err2 == nil && x == y
}

type optionKind int

const (
	optionBool optionKind = iota
	optionInt
	optionFloat
)

type optionSpec struct {
	kind     optionKind
	min, max float64
}

var recoveryOptions = map[string]optionSpec{
	"osd_max_backfills":             {kind: optionInt, min: 1, max: 1024},
	"osd_recovery_max_active":       {kind: optionInt, min: 0, max: 1024},
	"osd_recovery_max_single_start": {kind: optionInt, min: 1, max: 1024},
	"osd_recovery_sleep":            {kind: optionFloat, min: 0, max: 3600},
}

var scrubOptions = map[string]optionSpec{
	"osd_scrub_during_recovery": {kind: optionBool},
	"osd_scrub_auto_repair":     {kind: optionBool},
	"osd_scrub_begin_hour":      {kind: optionInt, min: 0, max: 23},
	"osd_scrub_end_hour":        {kind: optionInt, min: 0, max: 23},
	"osd_scrub_begin_week_day":  {kind: optionInt, min: 0, max: 6},
	"osd_scrub_end_week_day":    {kind: optionInt, min: 0, max: 6},
	"osd_max_scrubs":            {kind: optionInt, min: 1, max: 64},
	"osd_scrub_min_interval":    {kind: optionFloat, min: 0, max: 1e9},
	"osd_scrub_max_interval":    {kind: optionFloat, min: 0, max: 1e9},
	"osd_deep_scrub_interval":   {kind: optionFloat, min: 0, max: 1e9},
	"osd_scrub_sleep":           {kind: optionFloat, min: 0, max: 3600},
	"osd_scrub_load_threshold":  {kind: optionFloat, min: 0, max: 1e3},
}

var defaultScrubConfig = map[string]string{
	"osd_scrub_during_recovery": "false",
	"osd_scrub_auto_repair":     "false",
	"osd_scrub_begin_hour":      "0",
	"osd_scrub_end_hour":        "0",
	"osd_scrub_begin_week_day":  "0",
	"osd_scrub_end_week_day":    "0",
	"osd_max_scrubs":            "1",
	"osd_scrub_min_interval":    "86400",
	"osd_scrub_max_interval":    "604800",
	"osd_deep_scrub_interval":   "604800",
	"osd_scrub_sleep":           "0",
	"osd_scrub_load_threshold":  "0.5",
}

func ScrubOptionNames() []string {
	return sortedKeys(scrubOptions)
}

func DefaultScrubConfig() map[string]string {
	output := map[string]string{}
	for k, v := range defaultScrubConfig {
		output[k] = v
	}
	return output
}

// NormalizeRecoveryConfig checks custom recovery values and returns them in
// canonical form.
func NormalizeRecoveryConfig(values map[string]string) (map[string]string, error) {
	return normalizeOptions(recoveryOptions, values)
}

// NormalizeScrubConfig rejects unknown pg scrub options or values out of
// range and returns the rest in canonical form.
func NormalizeScrubConfig(values map[string]string) (map[string]string, error) {
	output, err := normalizeOptions(scrubOptions, values)
	if err != nil {
		return nil, err
	}
	lower, ok1 := output["osd_scrub_min_interval"]
	upper, ok2 := output["osd_scrub_max_interval"]
	if ok1 && ok2 {
		x, _ := strconv.ParseFloat(lower, 64)
		y, _ := strconv.ParseFloat(upper, 64)
		if x > y {
			return nil, fmt.Errorf("osd_scrub_min_interval %s exceeds osd_scrub_max_interval %s", lower, upper)
		}
	}
	return output, nil
}

func normalizeOptions(specs map[string]optionSpec, values map[string]string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("no option given, should be some of %v", sortedKeys(specs))
	}
	output := map[string]string{}
	for name, raw := range values {
		spec, ok := specs[name]
		if !ok {
			return nil, fmt.Errorf("unknown option %q, should be one of %v", name, sortedKeys(specs))
		}
		value, err := spec.normalize(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("option %s: %s", name, err.Error())
		}
		output[name] = value
	}
	return output, nil
}

func (s optionSpec) normalize(raw string) (string, error) {
	switch s.kind {
	case optionBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", fmt.Errorf("%q is not a bool", raw)
		}
		return strconv.FormatBool(b), nil
	case optionInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not an integer", raw)
		}
		if float64(n) < s.min || float64(n) > s.max {
			return "", fmt.Errorf("%d not in [%v, %v]", n, s.min, s.max)
		}
		return strconv.FormatInt(n, 10), nil
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a number", raw)
		}
		if f < s.min || f > s.max {
			return "", fmt.Errorf("%v not in [%v, %v]", f, s.min, s.max)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	output := make([]string, 0, len(m))
	for k := range m {
		output = append(output, k)
	}
	sort.Strings(output)
	return output
}
