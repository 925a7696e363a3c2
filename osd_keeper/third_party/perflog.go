package third_party

import (
	"strings"
	"sync"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
)

type PerfLogger interface {
	// at most 2 extra tags are used
	LogWithTags(namespace, metric, extra1, extra2 string, value uint64)
}

var (
	perfLogger PerfLogger = &NullPerfLogger{}
)

func SetPerfLogger(pl PerfLogger) {
	perfLogger = pl
}

func PerfLog(namespace, metric string, value uint64) {
	perfLogger.LogWithTags(namespace, metric, "", "", value)
}

func PerfLog1(namespace, metric, extra1 string, value uint64) {
	perfLogger.LogWithTags(namespace, metric, extra1, "", value)
}

func PerfLog2(namespace, metric, extra1, extra2 string, value uint64) {
	perfLogger.LogWithTags(namespace, metric, extra1, extra2, value)
}

type NullPerfLogger struct{}

func (n *NullPerfLogger) LogWithTags(namespace, metric, extra1, extra2 string, value uint64) {}

// VerbosePerfLogger writes every point to the log at the given verbose level.
type VerbosePerfLogger struct {
	Level int32
}

func (v *VerbosePerfLogger) LogWithTags(namespace, metric, extra1, extra2 string, value uint64) {
	logging.Verbose(v.Level, "[perf] %s.%s{%s,%s} %d", namespace, metric, extra1, extra2, value)
}

// MemPerfLogger keeps the last value and the count of every series.
type MemPerfLogger struct {
	mu     sync.Mutex
	last   map[string]uint64
	counts map[string]int
}

func NewMemPerfLogger() *MemPerfLogger {
	return &MemPerfLogger{
		last:   make(map[string]uint64),
		counts: make(map[string]int),
	}
}

func seriesKey(namespace, metric string, extras ...string) string {
	parts := []string{namespace, metric}
	for _, e := range extras {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, ".")
}

func (m *MemPerfLogger) LogWithTags(namespace, metric, extra1, extra2 string, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seriesKey(namespace, metric, extra1, extra2)
	m.last[key] = value
	m.counts[key]++
}

// Last looks a series up by its dotted key, e.g. "osd_keeper.osd.count".
func (m *MemPerfLogger) Last(key string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.last[key]
	return v, ok
}

func (m *MemPerfLogger) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}
