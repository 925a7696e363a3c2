package mgr

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/logging"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"

	"github.com/pkg/errors"
)

var (
	flagMaxMgrQps = flag.Int64("max_mgr_qps", 200, "max requests per second sent to the mgr api")
)

type HttpControlPlane struct {
	baseUrl     string
	token       string
	client      *http.Client
	rateLimiter *utils.TokenBucket
}

type httpOpts func(h *HttpControlPlane)

func WithToken(token string) httpOpts {
	return func(h *HttpControlPlane) {
		h.token = token
	}
}

func WithHttpClient(client *http.Client) httpOpts {
	return func(h *HttpControlPlane) {
		h.client = client
	}
}

func WithMaxQps(qps int64) httpOpts {
	return func(h *HttpControlPlane) {
		h.rateLimiter = utils.NewTokenBucket(qps, 100)
	}
}

func NewHttpControlPlane(baseUrl string, opts ...httpOpts) *HttpControlPlane {
	h := &HttpControlPlane{
		baseUrl:     strings.TrimSuffix(baseUrl, "/"),
		client:      &http.Client{Timeout: 30 * time.Second},
		rateLimiter: utils.NewTokenBucket(*flagMaxMgrQps, 100),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type mgrErrorBody struct {
	Detail string `json:"detail"`
}

func statusFromHttp(code int) status.Code {
	switch code {
	case http.StatusNotFound:
		return status.NotFound
	case http.StatusConflict:
		return status.Conflict
	case http.StatusBadRequest:
		return status.InvalidParameter
	default:
		return status.Unavailable
	}
}

func checkMgrResp(httpResp *http.Response, response interface{}) error {
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return utils.DecodeJsonBody(httpResp, response)
	}
	data, _ := io.ReadAll(httpResp.Body)
	detail := strings.TrimSpace(string(data))
	body := mgrErrorBody{}
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		detail = body.Detail
	}
	return status.ErrorMsg(statusFromHttp(httpResp.StatusCode), "mgr: %s: %s", httpResp.Status, detail)
}

func (h *HttpControlPlane) do(
	ctx context.Context,
	method, path string,
	params map[string]string,
	request, response interface{},
) error {
	if err := h.rateLimiter.AcquireTokenCtx(ctx); err != nil {
		return status.FromError(errors.Wrapf(err, "wait mgr rate limit for %s %s", method, path))
	}
	req := &utils.JsonRequest{
		Method:  method,
		Url:     h.baseUrl + path,
		Params:  params,
		Request: request,
	}
	if h.token != "" {
		req.Header = map[string]string{"Authorization": "Bearer " + h.token}
	}
	start := time.Now()
	err := utils.HttpDoJson(ctx, h.client, req, response, checkMgrResp)
	logging.Verbose(1, "mgr %s %s took %v, err: %v", method, path, time.Since(start), err)
	if err == nil {
		return nil
	}
	if _, ok := err.(*status.ErrorStatus); ok {
		return err
	}
	return status.FromError(errors.Wrapf(err, "%s %s", method, path))
}

func osdPath(id int64, suffix string) string {
	return fmt.Sprintf("/api/osd/%d%s", id, suffix)
}

func (h *HttpControlPlane) ListOsds(ctx context.Context) ([]*RawOsd, error) {
	var output []*RawOsd
	if err := h.do(ctx, http.MethodGet, "/api/osd", nil, nil, &output); err != nil {
		return nil, err
	}
	return output, nil
}

func (h *HttpControlPlane) SafetyInfo(ctx context.Context, ids []int64) (*SafetyPayload, error) {
	output := &SafetyPayload{}
	params := map[string]string{"ids": utils.JoinIds(ids)}
	if err := h.do(ctx, http.MethodGet, "/api/osd/safety", params, nil, output); err != nil {
		return nil, err
	}
	return output, nil
}

type markRequest struct {
	Action string `json:"action"`
}

func (h *HttpControlPlane) Mark(ctx context.Context, id int64, action string) error {
	return h.do(ctx, http.MethodPut, osdPath(id, "/mark"), nil, &markRequest{Action: action}, nil)
}

type reweightRequest struct {
	Weight float64 `json:"weight"`
}

func (h *HttpControlPlane) Reweight(ctx context.Context, id int64, weight float64) error {
	return h.do(ctx, http.MethodPost, osdPath(id, "/reweight"), nil, &reweightRequest{Weight: weight}, nil)
}

func (h *HttpControlPlane) Destroy(ctx context.Context, id int64) error {
	return h.do(ctx, http.MethodPost, osdPath(id, "/destroy"), nil, nil, nil)
}

func (h *HttpControlPlane) Purge(ctx context.Context, id int64) error {
	return h.do(ctx, http.MethodDelete, osdPath(id, ""), nil, nil, nil)
}

func (h *HttpControlPlane) Scrub(ctx context.Context, id int64, deep bool) error {
	params := map[string]string{"deep": fmt.Sprintf("%v", deep)}
	return h.do(ctx, http.MethodPost, osdPath(id, "/scrub"), params, nil, nil)
}

type FlagsBody struct {
	Flags []string `json:"flags"`
}

func (h *HttpControlPlane) GetFlags(ctx context.Context) ([]string, error) {
	output := &FlagsBody{}
	if err := h.do(ctx, http.MethodGet, "/api/osd/flags", nil, nil, output); err != nil {
		return nil, err
	}
	return output.Flags, nil
}

func (h *HttpControlPlane) SetFlags(ctx context.Context, flags []string) error {
	return h.do(ctx, http.MethodPut, "/api/osd/flags", nil, &FlagsBody{Flags: flags}, nil)
}

type ConfigOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type ConfigBody struct {
	Options []ConfigOption `json:"options"`
}

func (b *ConfigBody) Values() map[string]string {
	output := make(map[string]string, len(b.Options))
	for _, opt := range b.Options {
		output[opt.Name] = opt.Value
	}
	return output
}

func NewConfigBody(values map[string]string) *ConfigBody {
	body := &ConfigBody{Options: make([]ConfigOption, 0, len(values))}
	for name, value := range values {
		body.Options = append(body.Options, ConfigOption{Name: name, Value: value})
	}
	sort.Slice(body.Options, func(i, j int) bool { return body.Options[i].Name < body.Options[j].Name })
	return body
}

func (h *HttpControlPlane) GetConfig(ctx context.Context, names []string) (map[string]string, error) {
	output := &ConfigBody{}
	params := map[string]string{"names": strings.Join(names, ",")}
	if err := h.do(ctx, http.MethodGet, "/api/cluster_conf/filter", params, nil, output); err != nil {
		return nil, err
	}
	return output.Values(), nil
}

func (h *HttpControlPlane) SetConfig(ctx context.Context, values map[string]string) error {
	return h.do(ctx, http.MethodPut, "/api/cluster_conf", nil, NewConfigBody(values), nil)
}

func (h *HttpControlPlane) Ping(ctx context.Context) error {
	return h.do(ctx, http.MethodGet, "/api/health/minimal", nil, nil, nil)
}
