package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/coordinator"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/executor"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/safety"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/server"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"

	"gotest.tools/assert"
)

// fakeKeeper records run_bulk requests and answers them with every osd
// succeeded.
type fakeKeeper struct {
	mu       sync.Mutex
	runs     []*server.RunBulkRequest
	recovery []*server.RecoveryPriorityRequest
	scrub    []*server.PgScrubConfigRequest
}

func (f *fakeKeeper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var resp interface{}
	switch r.URL.Path {
	case "/v1/run_bulk":
		req := &server.RunBulkRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			resp = &server.ErrorStatusResponse{Status: status.ErrorMsg(status.HttpDecodeFailed, "%s", err.Error())}
			break
		}
		f.mu.Lock()
		f.runs = append(f.runs, req)
		f.mu.Unlock()
		resp = &server.RunBulkResponse{
			Status: status.StatusOk(),
			Result: &coordinator.BulkResult{
				RunId:     "run-1",
				Kind:      req.Kind,
				Succeeded: osd.NewIdSet(req.Ids...),
				NoOps:     osd.NewIdSet(),
				Failed:    map[int64]*status.ErrorStatus{},
				Selection: osd.NewSelection(req.Ids...),
			},
		}
	case "/v1/recovery_priority":
		req := &server.RecoveryPriorityRequest{}
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(req)
			f.mu.Lock()
			f.recovery = append(f.recovery, req)
			f.mu.Unlock()
		}
		resp = &server.RecoveryPriorityResponse{
			Status:   status.StatusOk(),
			Priority: osd.RecoveryPriorityHigh.String(),
			Values:   osd.RecoveryPriorityHigh.Values(),
		}
	case "/v1/pg_scrub_config":
		req := &server.PgScrubConfigRequest{}
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(req)
			f.mu.Lock()
			f.scrub = append(f.scrub, req)
			f.mu.Unlock()
		}
		resp = &server.PgScrubConfigResponse{Status: status.StatusOk(), Values: osd.DefaultScrubConfig()}
	case "/v1/switch_safe_mode":
		resp = &server.ErrorStatusResponse{Status: status.ErrorMsg(status.ServerNotReady, "not ready")}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	data, _ := json.Marshal(resp)
	w.Write(data)
}

func (f *fakeKeeper) recorded() []*server.RunBulkRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*server.RunBulkRequest(nil), f.runs...)
}

func runOsdctl(t *testing.T, url string, args ...string) error {
	root := newRootCmd()
	root.SetArgs(append([]string{"--keeper", url, "--timeout", "5s"}, args...))
	return root.Execute()
}

func TestBulkCommands(t *testing.T) {
	keeper := &fakeKeeper{}
	hs := httptest.NewServer(keeper)
	defer hs.Close()

	assert.NilError(t, runOsdctl(t, hs.URL, "mark", "out", "1,2,3"))
	assert.NilError(t, runOsdctl(t, hs.URL, "reweight", "4", "0.25"))
	assert.NilError(t, runOsdctl(t, hs.URL, "scrub", "5", "--deep"))
	assert.NilError(t, runOsdctl(t, hs.URL, "purge", "6", "--yes"))

	runs := keeper.recorded()
	assert.Equal(t, len(runs), 4)
	assert.Equal(t, runs[0].Kind, osd.MarkOut)
	assert.DeepEqual(t, runs[0].Ids, []int64{1, 2, 3})
	assert.Equal(t, runs[1].Kind, osd.Reweight)
	assert.Equal(t, runs[1].Weight, 0.25)
	assert.Equal(t, runs[2].Kind, osd.DeepScrub)
	assert.Equal(t, runs[3].Kind, osd.Purge)
}

func TestConfigCommands(t *testing.T) {
	keeper := &fakeKeeper{}
	hs := httptest.NewServer(keeper)
	defer hs.Close()

	assert.NilError(t, runOsdctl(t, hs.URL, "recovery-priority", "get"))
	assert.NilError(t, runOsdctl(t, hs.URL, "recovery-priority", "set", "high"))
	assert.NilError(t, runOsdctl(t, hs.URL, "recovery-priority", "set", "low", "--value", "osd_recovery_sleep=0.2"))
	assert.NilError(t, runOsdctl(t, hs.URL, "recovery-priority", "set", "--value", "osd_max_backfills=2"))
	assert.NilError(t, runOsdctl(t, hs.URL, "pg-scrub", "get"))
	assert.NilError(t, runOsdctl(t, hs.URL, "pg-scrub", "set", "osd_scrub_begin_hour=22", "osd_scrub_end_hour=6"))

	keeper.mu.Lock()
	defer keeper.mu.Unlock()
	assert.Equal(t, len(keeper.recovery), 3)
	assert.Equal(t, keeper.recovery[0].Priority, "high")
	assert.Equal(t, len(keeper.recovery[0].Values), 0)
	assert.DeepEqual(t, keeper.recovery[1].Values, map[string]string{"osd_recovery_sleep": "0.2"})
	assert.Equal(t, keeper.recovery[2].Priority, "")
	assert.Equal(t, len(keeper.scrub), 1)
	assert.DeepEqual(t, keeper.scrub[0].Values, map[string]string{
		"osd_scrub_begin_hour": "22",
		"osd_scrub_end_hour":   "6",
	})
}

func TestConfigArgsChecked(t *testing.T) {
	keeper := &fakeKeeper{}
	hs := httptest.NewServer(keeper)
	defer hs.Close()

	assert.ErrorContains(t, runOsdctl(t, hs.URL, "recovery-priority", "set", "urgent"), "unknown recovery priority")
	assert.ErrorContains(t, runOsdctl(t, hs.URL, "recovery-priority", "set"), "--value")
	assert.ErrorContains(t, runOsdctl(t, hs.URL, "pg-scrub", "set", "osd_max_scrubs"), "name=value")
	assert.Assert(t, runOsdctl(t, hs.URL, "pg-scrub", "set") != nil)

	keeper.mu.Lock()
	defer keeper.mu.Unlock()
	assert.Equal(t, len(keeper.recovery)+len(keeper.scrub), 0)
}

func TestIrreversibleNeedsConfirm(t *testing.T) {
	keeper := &fakeKeeper{}
	hs := httptest.NewServer(keeper)
	defer hs.Close()

	assert.ErrorContains(t, runOsdctl(t, hs.URL, "destroy", "1"), "--yes")
	assert.ErrorContains(t, runOsdctl(t, hs.URL, "mark", "lost", "1"), "--yes")
	assert.Equal(t, len(keeper.recorded()), 0)

	logging.Info("bad arguments never reach the keeper")
	assert.Assert(t, runOsdctl(t, hs.URL, "mark", "sideways", "1") != nil)
	assert.Assert(t, runOsdctl(t, hs.URL, "scrub", "a,b") != nil)
	assert.Assert(t, runOsdctl(t, hs.URL, "scrub", "[]") != nil)
	assert.Equal(t, len(keeper.recorded()), 0)
}

func TestKeeperErrorIsReturned(t *testing.T) {
	hs := httptest.NewServer(&fakeKeeper{})
	defer hs.Close()

	err := runOsdctl(t, hs.URL, "safe-mode", "on")
	assert.ErrorContains(t, err, "not ready")
	assert.Equal(t, status.CodeOf(err), status.ServerNotReady)
}

func TestRender(t *testing.T) {
	nodes := []*osd.Node{
		osd.NewNode(0, true, true, []string{"exists", "up"}),
		osd.NewNode(1, false, false, []string{"exists", "destroyed"}),
	}
	nodes[1].Partial = true
	out := renderOsds(nodes, map[string]int{"in+up": 1, "out+destroyed": 1}, []int64{0})
	assert.Assert(t, strings.Contains(out, "in flight"))
	assert.Assert(t, strings.Contains(out, "partial"))
	assert.Assert(t, strings.Contains(out, "out+destroyed: 1"))

	verdicts := map[int64]*safety.Verdict{
		7: {Id: 7, Kind: osd.Destroy, Eligibility: safety.Ineligible, Reasons: []string{"pg 1.0 would be left with 1 of min 2 live replicas"}},
	}
	out = renderVerdicts(verdicts)
	assert.Assert(t, strings.Contains(out, "ineligible"))
	assert.Assert(t, strings.Contains(out, "pg 1.0"))

	now := time.Now()
	result := &coordinator.BulkResult{
		RunId:      "run-2",
		Kind:       osd.MarkOut,
		Params:     executor.Params{},
		Succeeded:  osd.NewIdSet(1, 2),
		NoOps:      osd.NewIdSet(2),
		Failed:     map[int64]*status.ErrorStatus{3: status.ErrorMsg(status.Unavailable, "timeout")},
		Selection:  osd.NewSelection(1, 2, 3),
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
	out = renderResult(result)
	assert.Assert(t, strings.Contains(out, "already done"))
	assert.Assert(t, strings.Contains(out, "Unavailable"))
	assert.Assert(t, strings.Contains(out, "2 succeeded, 1 failed"))

	out = renderRuns([]*coordinator.BulkResult{result})
	assert.Assert(t, strings.Contains(out, "run-2"))

	out = renderConfig("recovery priority: low", osd.RecoveryPriorityLow.Values())
	assert.Assert(t, strings.Contains(out, "recovery priority: low"))
	assert.Assert(t, strings.Index(out, "osd_max_backfills") < strings.Index(out, "osd_recovery_sleep"))
	assert.Assert(t, strings.Contains(out, "0.5"))
}
