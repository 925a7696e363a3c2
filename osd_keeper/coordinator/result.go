package coordinator

import (
	"sync"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/executor"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
)

// BulkResult has exactly one outcome for every osd left after filtering the
// selection against the snapshot: either in Succeeded or in Failed.
type BulkResult struct {
	RunId      string                        `json:"run_id"`
	Kind       osd.Kind                      `json:"kind"`
	Params     executor.Params               `json:"params"`
	Succeeded  osd.IdSet                     `json:"succeeded"`
	NoOps      osd.IdSet                     `json:"no_ops"`
	Failed     map[int64]*status.ErrorStatus `json:"failed"`
	Selection  osd.Selection                 `json:"selection"`
	Refreshed  bool                          `json:"refreshed"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at"`
}

func (r *BulkResult) FailedIds() []int64 {
	output := osd.NewIdSet()
	for id := range r.Failed {
		output.Add(id)
	}
	return output.Sorted()
}

// CountFailed counts failures carrying code.
func (r *BulkResult) CountFailed(code status.Code) int {
	ans := 0
	for _, err := range r.Failed {
		if err.Code == code {
			ans++
		}
	}
	return ans
}

type resultRecorder struct {
	mu       sync.Mutex
	result   *BulkResult
	deselect []int64
}

func newResultRecorder(runId string, kind osd.Kind, params executor.Params, sel osd.Selection) *resultRecorder {
	return &resultRecorder{
		result: &BulkResult{
			RunId:     runId,
			Kind:      kind,
			Params:    params,
			Succeeded: osd.NewIdSet(),
			NoOps:     osd.NewIdSet(),
			Failed:    map[int64]*status.ErrorStatus{},
			Selection: sel,
			StartedAt: time.Now(),
		},
	}
}

func (r *resultRecorder) succeed(applied *executor.Applied) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Succeeded.Add(applied.Id)
	if applied.NoOp {
		r.result.NoOps.Add(applied.Id)
	}
	if applied.Deselect {
		r.deselect = append(r.deselect, applied.Id)
	}
}

func (r *resultRecorder) fail(id int64, err *status.ErrorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Failed[id] = err
}

func (r *resultRecorder) failAll(ids []int64, err *status.ErrorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.result.Failed[id] = err
	}
}

func (r *resultRecorder) finish(refreshed bool) *BulkResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Refreshed = refreshed
	r.result.Selection = r.result.Selection.Without(r.deselect...)
	r.result.FinishedAt = time.Now()
	return r.result
}
