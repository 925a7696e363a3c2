package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/coordinator"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/dbg"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/executor"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/safety"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/third_party"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/gorilla/mux"
)

const kDefaultRunsLimit = 20

type parseRequest func(r *http.Request) (interface{}, *status.ErrorStatus)
type handleRequest func(ctx context.Context, input interface{}) interface{}

type ErrorStatusResponse struct {
	Status *status.ErrorStatus `json:"status"`
}

type ListOsdsResponse struct {
	Status   *status.ErrorStatus `json:"status"`
	Nodes    []*osd.Node         `json:"nodes"`
	Summary  map[string]int      `json:"summary"`
	Inflight []int64             `json:"inflight"`
}

type SafeToDestroyRequest struct {
	Ids  []int64
	Kind osd.Kind
}

type SafeToDestroyResponse struct {
	Status   *status.ErrorStatus       `json:"status"`
	Verdicts map[int64]*safety.Verdict `json:"verdicts"`
}

type RunBulkRequest struct {
	Ids    []int64  `json:"ids"`
	Kind   osd.Kind `json:"kind"`
	Weight float64  `json:"weight"`
}

type RunBulkResponse struct {
	Status *status.ErrorStatus     `json:"status"`
	Result *coordinator.BulkResult `json:"result,omitempty"`
}

type FlagsRequest struct {
	Flags []string `json:"flags"`
}

type FlagsResponse struct {
	Status *status.ErrorStatus `json:"status"`
	Flags  []string            `json:"flags"`
}

type RecoveryPriorityRequest struct {
	Priority string            `json:"priority"`
	Values   map[string]string `json:"values"`
}

type RecoveryPriorityResponse struct {
	Status   *status.ErrorStatus `json:"status"`
	Priority string              `json:"priority"`
	Values   map[string]string   `json:"values"`
}

type PgScrubConfigRequest struct {
	Values map[string]string `json:"values"`
}

type PgScrubConfigResponse struct {
	Status *status.ErrorStatus `json:"status"`
	Values map[string]string   `json:"values"`
}

type SwitchSafeModeRequest struct {
	Enable bool `json:"enable"`
}

type ListBulkRunsResponse struct {
	Status *status.ErrorStatus       `json:"status"`
	Runs   []*coordinator.BulkResult `json:"runs"`
}

func okStatus(err *status.ErrorStatus) *status.ErrorStatus {
	if err == nil {
		return status.StatusOk()
	}
	return err
}

func parseListOsdsReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	return utils.GetBoolFromUrl(r, "refresh"), nil
}

func parseSafeToDestroyReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	ids, err := utils.GetIdsFromUrl(r, "ids")
	if err != nil {
		return nil, err
	}
	req := &SafeToDestroyRequest{Ids: ids, Kind: osd.Destroy}
	if name := r.URL.Query().Get("kind"); name != "" {
		kind, e := osd.ParseKind(name)
		if e != nil {
			return nil, status.ErrorMsg(status.HttpDecodeFailed, "%s", e.Error())
		}
		req.Kind = kind
	}
	return req, nil
}

func parseRunBulkReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	req := &RunBulkRequest{}
	if err := utils.GetReqFromHttpBody(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseNothing(r *http.Request) (interface{}, *status.ErrorStatus) {
	return nil, nil
}

func parseFlagsReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	req := &FlagsRequest{}
	if err := utils.GetReqFromHttpBody(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseRecoveryPriorityReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	req := &RecoveryPriorityRequest{}
	if err := utils.GetReqFromHttpBody(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func parsePgScrubConfigReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	req := &PgScrubConfigRequest{}
	if err := utils.GetReqFromHttpBody(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseSwitchSafeModeReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	req := &SwitchSafeModeRequest{}
	if err := utils.GetReqFromHttpBody(r, req); err != nil {
		return nil, err
	}
	return req, nil
}

func parseListBulkRunsReq(r *http.Request) (interface{}, *status.ErrorStatus) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return kDefaultRunsLimit, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return nil, status.ErrorMsg(status.HttpDecodeFailed, "invalid limit %q", value)
	}
	return limit, nil
}

func (s *Server) listOsds(ctx context.Context, input interface{}) interface{} {
	refresh := input.(bool)
	resp := &ListOsdsResponse{Summary: map[string]int{}, Inflight: s.coordinator.InflightIds()}
	nodes, err := s.coordinator.GetSnapshot(ctx, refresh)
	resp.Status = okStatus(status.FromError(err))
	if nodes == nil {
		// a failed refresh still serves the last good view
		if snap := s.reader.Latest(); snap != nil {
			nodes = snap.Nodes
		}
	}
	resp.Nodes = nodes
	for _, tag := range osd.AllStatusTags() {
		if count := osd.CountNodes(nodes, osd.GetNodeByTag(tag)); count > 0 {
			resp.Summary[tag.String()] = count
		}
	}
	return resp
}

func (s *Server) safeToDestroy(ctx context.Context, input interface{}) interface{} {
	req := input.(*SafeToDestroyRequest)
	resp := &SafeToDestroyResponse{}
	verdicts, err := s.coordinator.EvaluateSafety(ctx, req.Ids, req.Kind)
	resp.Status = okStatus(status.FromError(err))
	resp.Verdicts = verdicts
	return resp
}

func (s *Server) runBulk(ctx context.Context, input interface{}) interface{} {
	req := input.(*RunBulkRequest)
	if !req.Kind.Valid() {
		return &RunBulkResponse{Status: status.ErrorMsg(status.InvalidParameter, "missing kind")}
	}
	result, err := s.coordinator.RunBulk(
		ctx,
		osd.NewSelection(req.Ids...),
		req.Kind,
		executor.Params{Weight: req.Weight},
	)
	return &RunBulkResponse{Status: okStatus(status.FromError(err)), Result: result}
}

func (s *Server) getFlags(ctx context.Context, input interface{}) interface{} {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	flags, err := s.cp.GetFlags(ctx)
	if err != nil {
		return &FlagsResponse{Status: status.FromError(err)}
	}
	return &FlagsResponse{Status: status.StatusOk(), Flags: flags}
}

func (s *Server) setFlags(ctx context.Context, input interface{}) interface{} {
	req := input.(*FlagsRequest)
	flags, e := osd.NormalizeFlags(req.Flags)
	if e != nil {
		return &FlagsResponse{Status: status.ErrorMsg(status.InvalidParameter, "%s", e.Error())}
	}
	if dbg.RunInSafeMode() {
		return &FlagsResponse{Status: status.ErrorMsg(status.SafeMode, "refuse to set flags in safe mode")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := s.cp.SetFlags(ctx, flags); err != nil {
		return &FlagsResponse{Status: status.FromError(err)}
	}
	logging.Info("%s: cluster flags set to %v", s.myself, flags)
	return &FlagsResponse{Status: status.StatusOk(), Flags: flags}
}

func (s *Server) readConfig(ctx context.Context, names []string) (map[string]string, *status.ErrorStatus) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	values, err := s.cp.GetConfig(ctx, names)
	if err != nil {
		return nil, status.FromError(err)
	}
	return values, nil
}

func (s *Server) writeConfig(ctx context.Context, what string, values map[string]string) *status.ErrorStatus {
	if dbg.RunInSafeMode() {
		return status.ErrorMsg(status.SafeMode, "refuse to change %s in safe mode", what)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := s.cp.SetConfig(ctx, values); err != nil {
		return status.FromError(err)
	}
	logging.Info("%s: %s set to %v", s.myself, what, values)
	return nil
}

func (s *Server) getRecoveryPriority(ctx context.Context, input interface{}) interface{} {
	values, err := s.readConfig(ctx, osd.RecoveryOptionNames())
	if err != nil {
		return &RecoveryPriorityResponse{Status: err}
	}
	return &RecoveryPriorityResponse{
		Status:   status.StatusOk(),
		Priority: osd.RecoveryPriorityOf(values),
		Values:   values,
	}
}

// setRecoveryPriority applies a preset, custom values, or a preset with some
// values overridden.
func (s *Server) setRecoveryPriority(ctx context.Context, input interface{}) interface{} {
	req := input.(*RecoveryPriorityRequest)
	values := map[string]string{}
	if req.Priority != "" {
		priority, e := osd.ParseRecoveryPriority(req.Priority)
		if e != nil {
			return &RecoveryPriorityResponse{Status: status.ErrorMsg(status.InvalidParameter, "%s", e.Error())}
		}
		values = priority.Values()
	}
	if len(req.Values) > 0 {
		custom, e := osd.NormalizeRecoveryConfig(req.Values)
		if e != nil {
			return &RecoveryPriorityResponse{Status: status.ErrorMsg(status.InvalidParameter, "%s", e.Error())}
		}
		for name, value := range custom {
			values[name] = value
		}
	}
	if len(values) == 0 {
		return &RecoveryPriorityResponse{
			Status: status.ErrorMsg(status.InvalidParameter, "either priority or values is required"),
		}
	}
	if err := s.writeConfig(ctx, "recovery priority", values); err != nil {
		return &RecoveryPriorityResponse{Status: err}
	}
	return s.getRecoveryPriority(ctx, nil)
}

func (s *Server) getPgScrubConfig(ctx context.Context, input interface{}) interface{} {
	values, err := s.readConfig(ctx, osd.ScrubOptionNames())
	if err != nil {
		return &PgScrubConfigResponse{Status: err}
	}
	return &PgScrubConfigResponse{Status: status.StatusOk(), Values: values}
}

func (s *Server) setPgScrubConfig(ctx context.Context, input interface{}) interface{} {
	req := input.(*PgScrubConfigRequest)
	values, e := osd.NormalizeScrubConfig(req.Values)
	if e != nil {
		return &PgScrubConfigResponse{Status: status.ErrorMsg(status.InvalidParameter, "%s", e.Error())}
	}
	if err := s.writeConfig(ctx, "pg scrub config", values); err != nil {
		return &PgScrubConfigResponse{Status: err}
	}
	return s.getPgScrubConfig(ctx, nil)
}

func (s *Server) switchSafeMode(ctx context.Context, input interface{}) interface{} {
	req := input.(*SwitchSafeModeRequest)
	logging.Info("%s: switch safe mode to %v", s.myself, req.Enable)
	dbg.SetSafeMode(req.Enable)
	return &ErrorStatusResponse{Status: status.StatusOk()}
}

func (s *Server) listBulkRuns(ctx context.Context, input interface{}) interface{} {
	runs, err := s.coordinator.RecentRuns(ctx, input.(int))
	return &ListBulkRunsResponse{Status: okStatus(err), Runs: runs}
}

func (s *Server) handleRequest(
	w http.ResponseWriter,
	r *http.Request,
	parse parseRequest,
	handle handleRequest,
	funcName string,
) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)

	var output interface{}
	defer func() {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			logging.Error("%s: marshal response of %s failed: %s", s.myself, funcName, err.Error())
			data, _ = json.Marshal(&ErrorStatusResponse{
				Status: status.ErrorMsg(status.Unavailable, "marshal response: %s", err.Error()),
			})
		}
		logging.Verbose(1, "%s: response data: %s", s.myself, string(data))
		w.Write(data)
	}()

	if !s.initialized.Load() {
		output = &ErrorStatusResponse{
			Status: status.ErrorMsg(status.ServerNotReady, "server %s hasn't initialized", s.myself),
		}
		return
	}

	request, err := parse(r)
	if err != nil {
		logging.Info("%s: parse request failed: %s", s.myself, err.Message)
		output = &ErrorStatusResponse{Status: err}
		return
	}
	logging.Info("%s: got request url %s req %+v from %s", s.myself, r.URL, request, r.RemoteAddr)

	start := time.Now()
	output = handle(r.Context(), request)
	third_party.PerfLog1("osd_keeper", "http.cost", funcName, uint64(time.Since(start).Microseconds()))
}

func (s *Server) handleIfReadyToServe(
	parse parseRequest,
	handle handleRequest,
	funcName string,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logging.Verbose(1, "%s: got req %s from %s", s.myself, r.URL, r.RemoteAddr)
		s.handleRequest(w, r, parse, handle, funcName)
	}
}

func (s *Server) registerHttpHandle(
	router *mux.Router,
	name, method, path string,
	parse parseRequest,
	handle handleRequest,
) {
	router.Name(name).
		Methods(strings.ToUpper(method)).
		Path(path).
		HandlerFunc(s.handleIfReadyToServe(parse, handle, name))
}

func (s *Server) registerHandlers() {
	router := s.router
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	s.registerHttpHandle(router, "ListOsds", "get", "/v1/list_osds", parseListOsdsReq, s.listOsds)
	s.registerHttpHandle(
		router,
		"SafeToDestroy",
		"get",
		"/v1/safe_to_destroy",
		parseSafeToDestroyReq,
		s.safeToDestroy,
	)
	s.registerHttpHandle(router, "RunBulk", "post", "/v1/run_bulk", parseRunBulkReq, s.runBulk)
	s.registerHttpHandle(router, "GetFlags", "get", "/v1/flags", parseNothing, s.getFlags)
	s.registerHttpHandle(router, "SetFlags", "post", "/v1/flags", parseFlagsReq, s.setFlags)
	s.registerHttpHandle(
		router,
		"GetRecoveryPriority",
		"get",
		"/v1/recovery_priority",
		parseNothing,
		s.getRecoveryPriority,
	)
	s.registerHttpHandle(
		router,
		"SetRecoveryPriority",
		"post",
		"/v1/recovery_priority",
		parseRecoveryPriorityReq,
		s.setRecoveryPriority,
	)
	s.registerHttpHandle(router, "GetPgScrubConfig", "get", "/v1/pg_scrub_config", parseNothing, s.getPgScrubConfig)
	s.registerHttpHandle(
		router,
		"SetPgScrubConfig",
		"post",
		"/v1/pg_scrub_config",
		parsePgScrubConfigReq,
		s.setPgScrubConfig,
	)
	s.registerHttpHandle(
		router,
		"SwitchSafeMode",
		"post",
		"/v1/switch_safe_mode",
		parseSwitchSafeModeReq,
		s.switchSafeMode,
	)
	s.registerHttpHandle(
		router,
		"ListBulkRuns",
		"get",
		"/v1/list_bulk_runs",
		parseListBulkRunsReq,
		s.listBulkRuns,
	)
}
