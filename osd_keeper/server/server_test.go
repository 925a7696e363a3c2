package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/dbg"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/metastore"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/assert"
)

type serverTestEnv struct {
	cluster *mgr.FakeCluster
	store   *metastore.MetaStoreMock
	server  *Server
	http    *httptest.Server
}

func testConfig() *Config {
	return &Config{
		HttpPort:                30200,
		CallTimeout:             time.Second,
		MaxInflightCalls:        4,
		ZkPrefix:                "/test/osd_keeper",
		SnapshotRefreshInterval: time.Hour,
		JournalRetention:        10,
		RemovalRequiresUp:       true,
	}
}

func setupServerTestEnv(t *testing.T, prepare bool) *serverTestEnv {
	cluster := mgr.NewFakeCluster().
		AddOsd(0, "host-a", true, true).
		AddOsd(1, "host-a", true, true).
		AddOsd(2, "host-b", true, true).
		AddOsd(3, "host-b", false, false).
		AddPg("1.0", 2, 0, 1, 2).
		AddPg("1.1", 2, 1, 2)
	store := metastore.NewMockMetaStore()
	sv := CreateServer(WithConfig(testConfig()), WithControlPlane(cluster), WithMetaStore(store))
	if prepare {
		sv.prepare()
	}
	return &serverTestEnv{
		cluster: cluster,
		store:   store,
		server:  sv,
		http:    httptest.NewServer(sv.router),
	}
}

func (te *serverTestEnv) teardown() {
	te.http.Close()
	dbg.SetSafeMode(false)
}

func (te *serverTestEnv) get(t *testing.T, path string, params map[string]string, resp interface{}) {
	err := utils.HttpGet(context.Background(), te.http.URL+path, params, resp)
	assert.NilError(t, err)
}

func (te *serverTestEnv) post(t *testing.T, path string, req, resp interface{}) {
	err := utils.HttpPostJson(context.Background(), te.http.URL+path, req, resp)
	assert.NilError(t, err)
}

func TestServerNotReady(t *testing.T) {
	te := setupServerTestEnv(t, false)
	defer te.teardown()

	resp := &ListOsdsResponse{}
	te.get(t, "/v1/list_osds", nil, resp)
	assert.Equal(t, resp.Status.Code, status.ServerNotReady)
}

func TestHealth(t *testing.T) {
	te := setupServerTestEnv(t, false)
	defer te.teardown()

	httpResp, err := http.Get(te.http.URL + "/health")
	assert.NilError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, httpResp.StatusCode, http.StatusOK)
}

func TestListOsds(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &ListOsdsResponse{}
	te.get(t, "/v1/list_osds", nil, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Equal(t, len(resp.Nodes), 4)
	assert.DeepEqual(t, resp.Summary, map[string]int{"in+up": 3, "out+down": 1})

	logging.Info("a failed refresh still serves the last snapshot")
	te.cluster.SetUnreachable(true)
	resp = &ListOsdsResponse{}
	te.get(t, "/v1/list_osds", map[string]string{"refresh": "true"}, resp)
	assert.Equal(t, resp.Status.Code, status.Unavailable)
	assert.Equal(t, len(resp.Nodes), 4)

	logging.Info("partial records are flagged")
	te.cluster.SetUnreachable(false)
	te.cluster.DropStats(2)
	resp = &ListOsdsResponse{}
	te.get(t, "/v1/list_osds", map[string]string{"refresh": "true"}, resp)
	assert.Equal(t, resp.Status.Code, status.PartialData)
	for _, node := range resp.Nodes {
		assert.Equal(t, node.Partial, node.Id == 2)
	}
}

func TestSafeToDestroy(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &SafeToDestroyResponse{}
	te.get(t, "/v1/safe_to_destroy", map[string]string{"ids": "0,1"}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Equal(t, resp.Verdicts[0].Id, int64(0))
	assert.Assert(t, resp.Verdicts[0].Status() != nil)
	assert.Assert(t, resp.Verdicts[1].Status() != nil)

	resp = &SafeToDestroyResponse{}
	te.get(t, "/v1/safe_to_destroy", map[string]string{"ids": "0", "kind": "markOut"}, resp)
	assert.Equal(t, resp.Status.Code, status.InvalidParameter)

	resp = &SafeToDestroyResponse{}
	te.get(t, "/v1/safe_to_destroy", map[string]string{"ids": "0", "kind": "nonsense"}, resp)
	assert.Equal(t, resp.Status.Code, status.HttpDecodeFailed)

	resp = &SafeToDestroyResponse{}
	te.get(t, "/v1/safe_to_destroy", nil, resp)
	assert.Equal(t, resp.Status.Code, status.HttpDecodeFailed)
}

func TestRunBulk(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", &RunBulkRequest{Ids: []int64{0, 1, 9}, Kind: osd.MarkOut}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.DeepEqual(t, resp.Result.Succeeded.Sorted(), []int64{0, 1})
	assert.Equal(t, len(resp.Result.Failed), 0)
	assert.Equal(t, te.cluster.Osd(0).In, 0)
	assert.Equal(t, te.cluster.Osd(1).In, 0)

	logging.Info("destroy is blocked by pg 1.1")
	resp = &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", &RunBulkRequest{Ids: []int64{1}, Kind: osd.Destroy}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.DeepEqual(t, resp.Result.FailedIds(), []int64{1})
	assert.Equal(t, resp.Result.Failed[1].Code, status.SafetyBlocked)

	logging.Info("reweight takes one osd")
	resp = &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", &RunBulkRequest{Ids: []int64{0, 1}, Kind: osd.Reweight, Weight: 0.5}, resp)
	assert.Equal(t, resp.Status.Code, status.InvalidParameter)
	assert.Assert(t, resp.Result == nil)

	logging.Info("a missing kind is rejected")
	resp = &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", map[string]interface{}{"ids": []int64{0}}, resp)
	assert.Equal(t, resp.Status.Code, status.InvalidParameter)

	logging.Info("an unknown kind fails to decode")
	resp = &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", map[string]interface{}{"ids": []int64{0}, "kind": "explode"}, resp)
	assert.Equal(t, resp.Status.Code, status.HttpDecodeFailed)

	runs := &ListBulkRunsResponse{}
	te.get(t, "/v1/list_bulk_runs", nil, runs)
	assert.Equal(t, runs.Status.Code, status.Ok)
	assert.Equal(t, len(runs.Runs), 2)
	assert.Equal(t, runs.Runs[0].Kind, osd.Destroy)
	assert.Equal(t, runs.Runs[1].Kind, osd.MarkOut)

	runs = &ListBulkRunsResponse{}
	te.get(t, "/v1/list_bulk_runs", map[string]string{"limit": "1"}, runs)
	assert.Equal(t, len(runs.Runs), 1)

	runs = &ListBulkRunsResponse{}
	te.get(t, "/v1/list_bulk_runs", map[string]string{"limit": "-1"}, runs)
	assert.Equal(t, runs.Status.Code, status.HttpDecodeFailed)
}

func TestFlags(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &FlagsResponse{}
	te.post(t, "/v1/flags", &FlagsRequest{Flags: []string{"noout", "noscrub", "noout"}}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.DeepEqual(t, resp.Flags, []string{"noout", "noscrub"})

	resp = &FlagsResponse{}
	te.get(t, "/v1/flags", nil, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Assert(t, cmp.Equal(resp.Flags, []string{"noout", "noscrub"}))

	resp = &FlagsResponse{}
	te.post(t, "/v1/flags", &FlagsRequest{Flags: []string{"nothing"}}, resp)
	assert.Equal(t, resp.Status.Code, status.InvalidParameter)

	te.cluster.SetUnreachable(true)
	resp = &FlagsResponse{}
	te.get(t, "/v1/flags", nil, resp)
	assert.Equal(t, resp.Status.Code, status.Unavailable)
}

func TestRecoveryPriority(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &RecoveryPriorityResponse{}
	te.get(t, "/v1/recovery_priority", nil, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Equal(t, resp.Priority, "default")
	assert.DeepEqual(t, resp.Values, osd.RecoveryPriorityDefault.Values())

	resp = &RecoveryPriorityResponse{}
	te.post(t, "/v1/recovery_priority", &RecoveryPriorityRequest{Priority: "high"}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Equal(t, resp.Priority, "high")
	assert.Equal(t, resp.Values["osd_max_backfills"], "4")

	logging.Info("overriding a preset value reads back as custom")
	resp = &RecoveryPriorityResponse{}
	te.post(t, "/v1/recovery_priority", &RecoveryPriorityRequest{
		Priority: "low",
		Values:   map[string]string{"osd_recovery_sleep": "0.25"},
	}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Equal(t, resp.Priority, osd.RecoveryPriorityCustom)
	assert.Equal(t, resp.Values["osd_recovery_sleep"], "0.25")
	assert.Equal(t, resp.Values["osd_recovery_max_active"], "1")

	for _, req := range []*RecoveryPriorityRequest{
		{},
		{Priority: "urgent"},
		{Values: map[string]string{"osd_max_backfills": "-1"}},
	} {
		resp = &RecoveryPriorityResponse{}
		te.post(t, "/v1/recovery_priority", req, resp)
		assert.Equal(t, resp.Status.Code, status.InvalidParameter)
	}
	assert.Equal(t, te.cluster.Calls(mgr.MethodSetConfig), 2)

	logging.Info("refused in safe mode")
	dbg.SetSafeMode(true)
	resp = &RecoveryPriorityResponse{}
	te.post(t, "/v1/recovery_priority", &RecoveryPriorityRequest{Priority: "default"}, resp)
	assert.Equal(t, resp.Status.Code, status.SafeMode)
	assert.Equal(t, te.cluster.Calls(mgr.MethodSetConfig), 2)
	dbg.SetSafeMode(false)

	te.cluster.SetUnreachable(true)
	resp = &RecoveryPriorityResponse{}
	te.get(t, "/v1/recovery_priority", nil, resp)
	assert.Equal(t, resp.Status.Code, status.Unavailable)
}

func TestPgScrubConfig(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &PgScrubConfigResponse{}
	te.get(t, "/v1/pg_scrub_config", nil, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.DeepEqual(t, resp.Values, osd.DefaultScrubConfig())

	resp = &PgScrubConfigResponse{}
	te.post(t, "/v1/pg_scrub_config", &PgScrubConfigRequest{Values: map[string]string{
		"osd_scrub_begin_hour":      "22",
		"osd_scrub_end_hour":        "6",
		"osd_scrub_during_recovery": "yes",
	}}, resp)
	assert.Equal(t, resp.Status.Code, status.InvalidParameter)
	assert.Equal(t, te.cluster.Calls(mgr.MethodSetConfig), 0)

	resp = &PgScrubConfigResponse{}
	te.post(t, "/v1/pg_scrub_config", &PgScrubConfigRequest{Values: map[string]string{
		"osd_scrub_begin_hour":      "22",
		"osd_scrub_end_hour":        "6",
		"osd_scrub_during_recovery": "TRUE",
	}}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Equal(t, len(resp.Values), len(osd.ScrubOptionNames()))
	assert.Equal(t, resp.Values["osd_scrub_begin_hour"], "22")
	assert.Equal(t, resp.Values["osd_scrub_during_recovery"], "true")
	assert.Equal(t, resp.Values["osd_max_scrubs"], "1")

	resp = &PgScrubConfigResponse{}
	te.post(t, "/v1/pg_scrub_config", &PgScrubConfigRequest{}, resp)
	assert.Equal(t, resp.Status.Code, status.InvalidParameter)

	dbg.SetSafeMode(true)
	resp = &PgScrubConfigResponse{}
	te.post(t, "/v1/pg_scrub_config", &PgScrubConfigRequest{Values: map[string]string{"osd_max_scrubs": "2"}}, resp)
	assert.Equal(t, resp.Status.Code, status.SafeMode)
	assert.Equal(t, te.cluster.Calls(mgr.MethodSetConfig), 1)
}

func TestSwitchSafeMode(t *testing.T) {
	te := setupServerTestEnv(t, true)
	defer te.teardown()

	resp := &ErrorStatusResponse{}
	te.post(t, "/v1/switch_safe_mode", &SwitchSafeModeRequest{Enable: true}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Assert(t, dbg.RunInSafeMode())

	bulk := &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", &RunBulkRequest{Ids: []int64{3}, Kind: osd.Purge}, bulk)
	assert.Equal(t, bulk.Status.Code, status.SafeMode)
	assert.Equal(t, bulk.Result.Failed[3].Code, status.SafeMode)
	assert.Assert(t, te.cluster.Osd(3) != nil)

	logging.Info("reversible kinds still run in safe mode")
	bulk = &RunBulkResponse{}
	te.post(t, "/v1/run_bulk", &RunBulkRequest{Ids: []int64{3}, Kind: osd.MarkIn}, bulk)
	assert.Equal(t, bulk.Status.Code, status.Ok)

	flags := &FlagsResponse{}
	te.post(t, "/v1/flags", &FlagsRequest{Flags: []string{"noout"}}, flags)
	assert.Equal(t, flags.Status.Code, status.SafeMode)

	resp = &ErrorStatusResponse{}
	te.post(t, "/v1/switch_safe_mode", &SwitchSafeModeRequest{Enable: false}, resp)
	assert.Equal(t, resp.Status.Code, status.Ok)
	assert.Assert(t, !dbg.RunInSafeMode())

	resp = &ErrorStatusResponse{}
	te.post(t, "/v1/switch_safe_mode", nil, resp)
	assert.Equal(t, resp.Status.Code, status.HttpDecodeFailed)
}
