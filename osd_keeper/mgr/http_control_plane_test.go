package mgr_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/dbg"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/assert"
)

type httpTestEnv struct {
	cluster *mgr.FakeCluster
	server  *httptest.Server
	client  *mgr.HttpControlPlane
}

func setupHttpTestEnv(t *testing.T) *httpTestEnv {
	cluster := mgr.NewFakeCluster().
		AddOsd(0, "host-a", true, true).
		AddOsd(1, "host-a", true, true).
		AddOsd(2, "host-b", false, false).
		AddPg("1.0", 2, 0, 1, 2)
	server := httptest.NewServer(dbg.NewMockMgr(cluster))
	return &httpTestEnv{
		cluster: cluster,
		server:  server,
		client:  mgr.NewHttpControlPlane(server.URL+"/", mgr.WithMaxQps(10000)),
	}
}

func (te *httpTestEnv) teardown() {
	te.server.Close()
}

func TestHttpListAndSafety(t *testing.T) {
	te := setupHttpTestEnv(t)
	defer te.teardown()
	ctx := context.Background()

	osds, err := te.client.ListOsds(ctx)
	assert.NilError(t, err)
	assert.Equal(t, len(osds), 3)
	assert.Equal(t, osds[0].Id, int64(0))
	assert.Equal(t, osds[0].Host.Name, "host-a")
	assert.Equal(t, osds[2].Up, 0)
	assert.Assert(t, osds[0].Stats != nil)
	assert.Equal(t, osds[0].Stats.NumPg, int64(1))

	payload, err := te.client.SafetyInfo(ctx, []int64{0, 2, 7})
	assert.NilError(t, err)
	assert.Equal(t, len(payload.Osds), 2)
	info := payload.Find(0)
	assert.Assert(t, info.MetadataAvailable)
	want := []mgr.PgHealth{{PgId: "1.0", Acting: []int64{0, 1, 2}, Live: []int64{0, 1}, MinSize: 2}}
	assert.Assert(t, cmp.Equal(info.Pgs, want), cmp.Diff(info.Pgs, want))
	assert.Assert(t, payload.Find(7) == nil)
}

func TestHttpStatusMapping(t *testing.T) {
	te := setupHttpTestEnv(t)
	defer te.teardown()
	ctx := context.Background()

	logging.Info("unknown osd maps to not found")
	err := te.client.Destroy(ctx, 99)
	assert.Equal(t, status.CodeOf(err), status.NotFound)

	logging.Info("injected conflict maps to conflict")
	te.cluster.SetBehaviors(mgr.MethodMark, &mgr.Behaviors{FailOnce: status.Conflict})
	err = te.client.Mark(ctx, 0, mgr.ActionOut)
	assert.Equal(t, status.CodeOf(err), status.Conflict)

	logging.Info("second mark out twice succeeds")
	assert.NilError(t, te.client.Mark(ctx, 0, mgr.ActionOut))
	assert.NilError(t, te.client.Mark(ctx, 0, mgr.ActionOut))
	assert.Equal(t, te.cluster.Osd(0).In, 0)

	logging.Info("bad weight maps to invalid parameter")
	err = te.client.Reweight(ctx, 1, 3)
	assert.Equal(t, status.CodeOf(err), status.InvalidParameter)
	assert.NilError(t, te.client.Reweight(ctx, 1, 0.5))
	assert.Equal(t, te.cluster.Osd(1).Weight, 0.5)

	logging.Info("unreachable cluster maps to unavailable")
	te.cluster.SetUnreachable(true)
	err = te.client.Ping(ctx)
	assert.Equal(t, status.CodeOf(err), status.Unavailable)
}

func TestHttpTransportErrors(t *testing.T) {
	te := setupHttpTestEnv(t)
	te.cluster.SetBehaviors(mgr.MethodPing, &mgr.Behaviors{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := te.client.Ping(ctx)
	assert.Equal(t, status.CodeOf(err), status.Unavailable)

	te.teardown()
	err = te.client.Ping(context.Background())
	assert.Equal(t, status.CodeOf(err), status.Unavailable)
}

func TestHttpScrubPurgeAndFlags(t *testing.T) {
	te := setupHttpTestEnv(t)
	defer te.teardown()
	ctx := context.Background()

	assert.NilError(t, te.client.Scrub(ctx, 1, false))
	assert.NilError(t, te.client.Scrub(ctx, 1, true))
	assert.Equal(t, te.cluster.ScrubCount(1, false), 1)
	assert.Equal(t, te.cluster.ScrubCount(1, true), 1)

	assert.NilError(t, te.client.Purge(ctx, 2))
	assert.Assert(t, te.cluster.Osd(2) == nil)
	assert.Equal(t, status.CodeOf(te.client.Purge(ctx, 2)), status.NotFound)

	assert.NilError(t, te.client.SetFlags(ctx, []string{"noout", "noup"}))
	flags, err := te.client.GetFlags(ctx)
	assert.NilError(t, err)
	assert.DeepEqual(t, flags, []string{"noout", "noup"})
}

func TestHttpClusterConfig(t *testing.T) {
	te := setupHttpTestEnv(t)
	defer te.teardown()
	ctx := context.Background()

	values, err := te.client.GetConfig(ctx, []string{"osd_max_backfills", "osd_scrub_begin_hour", "no_such_option"})
	assert.NilError(t, err)
	assert.DeepEqual(t, values, map[string]string{"osd_max_backfills": "1", "osd_scrub_begin_hour": "0"})

	assert.NilError(t, te.client.SetConfig(ctx, map[string]string{
		"osd_max_backfills":    "4",
		"osd_scrub_begin_hour": "22",
	}))
	values, err = te.cluster.GetConfig(ctx, []string{"osd_max_backfills", "osd_scrub_begin_hour"})
	assert.NilError(t, err)
	assert.DeepEqual(t, values, map[string]string{"osd_max_backfills": "4", "osd_scrub_begin_hour": "22"})
	assert.Equal(t, te.cluster.Calls(mgr.MethodSetConfig), 1)

	logging.Info("injected failure keeps its code over the wire")
	te.cluster.SetBehaviors(mgr.MethodSetConfig, &mgr.Behaviors{Fail: status.InvalidParameter})
	err = te.client.SetConfig(ctx, map[string]string{"osd_max_backfills": "1"})
	assert.Equal(t, status.CodeOf(err), status.InvalidParameter)
}

func TestHttpBearerToken(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := mgr.NewHttpControlPlane(server.URL, mgr.WithToken("secret"))
	assert.NilError(t, client.Ping(context.Background()))
	assert.Equal(t, got, "Bearer secret")
}
