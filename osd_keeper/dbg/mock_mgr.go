package dbg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/mgr"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/go-chi/chi/v5"
)

// MockMgr serves a FakeCluster with the same wire format as the mgr api, so
// that the http control plane can be exercised end to end.
type MockMgr struct {
	cluster *mgr.FakeCluster
	router  chi.Router
}

func NewMockMgr(cluster *mgr.FakeCluster) *MockMgr {
	m := &MockMgr{cluster: cluster}
	r := chi.NewRouter()
	r.Get("/api/health/minimal", m.handlePing)
	r.Get("/api/cluster_conf/filter", m.handleGetConfig)
	r.Put("/api/cluster_conf", m.handleSetConfig)
	r.Route("/api/osd", func(r chi.Router) {
		r.Get("/", m.handleList)
		r.Get("/safety", m.handleSafety)
		r.Get("/flags", m.handleGetFlags)
		r.Put("/flags", m.handleSetFlags)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/mark", m.handleMark)
			r.Post("/reweight", m.handleReweight)
			r.Post("/destroy", m.handleDestroy)
			r.Post("/scrub", m.handleScrub)
			r.Delete("/", m.handlePurge)
		})
	})
	m.router = r
	return m
}

func (m *MockMgr) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

func (m *MockMgr) Cluster() *mgr.FakeCluster {
	return m.cluster
}

func httpStatusOf(code status.Code) int {
	switch code {
	case status.NotFound:
		return http.StatusNotFound
	case status.Conflict:
		return http.StatusConflict
	case status.InvalidParameter:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJson(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warning("mock mgr: encode response failed: %s", err.Error())
	}
}

func writeResult(w http.ResponseWriter, body interface{}, err error) {
	if err != nil {
		es := status.FromError(err)
		writeJson(w, httpStatusOf(es.Code), map[string]string{"detail": es.Message})
		return
	}
	if body == nil {
		writeJson(w, http.StatusOK, map[string]string{})
		return
	}
	writeJson(w, http.StatusOK, body)
}

func osdId(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, status.ErrorMsg(status.InvalidParameter, "bad osd id %q", raw)
	}
	return id, nil
}

func decodeBody(r *http.Request, ptr interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(ptr); err != nil {
		return status.ErrorMsg(status.InvalidParameter, "decode body: %s", err.Error())
	}
	return nil
}

func (m *MockMgr) handlePing(w http.ResponseWriter, r *http.Request) {
	writeResult(w, map[string]string{"health": "HEALTH_OK"}, m.cluster.Ping(r.Context()))
}

func (m *MockMgr) handleList(w http.ResponseWriter, r *http.Request) {
	osds, err := m.cluster.ListOsds(r.Context())
	writeResult(w, osds, err)
}

func (m *MockMgr) handleSafety(w http.ResponseWriter, r *http.Request) {
	ids, perr := utils.ParseIdList(r.URL.Query().Get("ids"))
	if perr != nil {
		writeResult(w, nil, status.ErrorMsg(status.InvalidParameter, "%s", perr.Error()))
		return
	}
	payload, err := m.cluster.SafetyInfo(r.Context(), ids)
	writeResult(w, payload, err)
}

func (m *MockMgr) handleGetFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := m.cluster.GetFlags(r.Context())
	writeResult(w, &mgr.FlagsBody{Flags: flags}, err)
}

func (m *MockMgr) handleSetFlags(w http.ResponseWriter, r *http.Request) {
	body := &mgr.FlagsBody{}
	if err := decodeBody(r, body); err != nil {
		writeResult(w, nil, err)
		return
	}
	writeResult(w, nil, m.cluster.SetFlags(r.Context(), body.Flags))
}

func (m *MockMgr) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	for _, name := range strings.Split(r.URL.Query().Get("names"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	values, err := m.cluster.GetConfig(r.Context(), names)
	writeResult(w, mgr.NewConfigBody(values), err)
}

func (m *MockMgr) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	body := &mgr.ConfigBody{}
	if err := decodeBody(r, body); err != nil {
		writeResult(w, nil, err)
		return
	}
	writeResult(w, nil, m.cluster.SetConfig(r.Context(), body.Values()))
}

func (m *MockMgr) withId(
	w http.ResponseWriter,
	r *http.Request,
	f func(ctx context.Context, id int64) error,
) {
	id, err := osdId(r)
	if err == nil {
		err = f(r.Context(), id)
	}
	writeResult(w, nil, err)
}

func (m *MockMgr) handleMark(w http.ResponseWriter, r *http.Request) {
	m.withId(w, r, func(ctx context.Context, id int64) error {
		body := struct {
			Action string `json:"action"`
		}{}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		return m.cluster.Mark(ctx, id, body.Action)
	})
}

func (m *MockMgr) handleReweight(w http.ResponseWriter, r *http.Request) {
	m.withId(w, r, func(ctx context.Context, id int64) error {
		body := struct {
			Weight *float64 `json:"weight"`
		}{}
		if err := decodeBody(r, &body); err != nil {
			return err
		}
		if body.Weight == nil {
			return status.ErrorMsg(status.InvalidParameter, "missing weight")
		}
		return m.cluster.Reweight(ctx, id, *body.Weight)
	})
}

func (m *MockMgr) handleDestroy(w http.ResponseWriter, r *http.Request) {
	m.withId(w, r, m.cluster.Destroy)
}

func (m *MockMgr) handlePurge(w http.ResponseWriter, r *http.Request) {
	m.withId(w, r, m.cluster.Purge)
}

func (m *MockMgr) handleScrub(w http.ResponseWriter, r *http.Request) {
	m.withId(w, r, func(ctx context.Context, id int64) error {
		deep, _ := strconv.ParseBool(r.URL.Query().Get("deep"))
		return m.cluster.Scrub(ctx, id, deep)
	})
}

// NewOneboxCluster builds the demo cluster used by -onebox: three hosts with
// three osds each and a replicated pool spread across them.
func NewOneboxCluster() *mgr.FakeCluster {
	cluster := mgr.NewFakeCluster()
	for host := 0; host < 3; host++ {
		for i := 0; i < 3; i++ {
			id := int64(host*3 + i)
			cluster.AddOsd(id, fmt.Sprintf("onebox-host-%d", host), true, true)
		}
	}
	for pg := 0; pg < 16; pg++ {
		i := int64(pg % 3)
		cluster.AddPg(fmt.Sprintf("1.%x", pg), 2, i, 3+i, 6+i)
	}
	return cluster
}
