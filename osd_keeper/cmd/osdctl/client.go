package main

import (
	"context"
	"strconv"
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/server"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/utils"
)

type keeperClient struct {
	baseUrl string
	timeout time.Duration
}

func (c *keeperClient) get(path string, params map[string]string, resp interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return utils.HttpGet(ctx, c.baseUrl+path, params, resp)
}

func (c *keeperClient) post(path string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return utils.HttpPostJson(ctx, c.baseUrl+path, req, resp)
}

// checkStatus turns a non-ok status into an error. PartialData still carries
// a usable body so it isn't treated as a failure.
func checkStatus(es *status.ErrorStatus, tolerated ...status.Code) error {
	if es.IsOk() {
		return nil
	}
	for _, code := range tolerated {
		if es.Code == code {
			return nil
		}
	}
	return es
}

func (c *keeperClient) ListOsds(refresh bool) (*server.ListOsdsResponse, error) {
	resp := &server.ListOsdsResponse{}
	params := map[string]string{"refresh": strconv.FormatBool(refresh)}
	if err := c.get("/v1/list_osds", params, resp); err != nil {
		return nil, err
	}
	return resp, checkStatus(resp.Status, status.PartialData)
}

func (c *keeperClient) SafeToDestroy(ids []int64, kind osd.Kind) (*server.SafeToDestroyResponse, error) {
	resp := &server.SafeToDestroyResponse{}
	params := map[string]string{"ids": utils.JoinIds(ids), "kind": kind.String()}
	if err := c.get("/v1/safe_to_destroy", params, resp); err != nil {
		return nil, err
	}
	return resp, checkStatus(resp.Status)
}

// RunBulk returns the result even when the run as a whole reported an error.
func (c *keeperClient) RunBulk(ids []int64, kind osd.Kind, weight float64) (*server.RunBulkResponse, error) {
	resp := &server.RunBulkResponse{}
	req := &server.RunBulkRequest{Ids: ids, Kind: kind, Weight: weight}
	if err := c.post("/v1/run_bulk", req, resp); err != nil {
		return nil, err
	}
	return resp, checkStatus(resp.Status)
}

func (c *keeperClient) GetFlags() ([]string, error) {
	resp := &server.FlagsResponse{}
	if err := c.get("/v1/flags", nil, resp); err != nil {
		return nil, err
	}
	return resp.Flags, checkStatus(resp.Status)
}

func (c *keeperClient) SetFlags(flags []string) ([]string, error) {
	resp := &server.FlagsResponse{}
	if err := c.post("/v1/flags", &server.FlagsRequest{Flags: flags}, resp); err != nil {
		return nil, err
	}
	return resp.Flags, checkStatus(resp.Status)
}

func (c *keeperClient) GetRecoveryPriority() (*server.RecoveryPriorityResponse, error) {
	resp := &server.RecoveryPriorityResponse{}
	if err := c.get("/v1/recovery_priority", nil, resp); err != nil {
		return nil, err
	}
	return resp, checkStatus(resp.Status)
}

func (c *keeperClient) SetRecoveryPriority(
	priority string,
	values map[string]string,
) (*server.RecoveryPriorityResponse, error) {
	resp := &server.RecoveryPriorityResponse{}
	req := &server.RecoveryPriorityRequest{Priority: priority, Values: values}
	if err := c.post("/v1/recovery_priority", req, resp); err != nil {
		return nil, err
	}
	return resp, checkStatus(resp.Status)
}

func (c *keeperClient) GetPgScrubConfig() (map[string]string, error) {
	resp := &server.PgScrubConfigResponse{}
	if err := c.get("/v1/pg_scrub_config", nil, resp); err != nil {
		return nil, err
	}
	return resp.Values, checkStatus(resp.Status)
}

func (c *keeperClient) SetPgScrubConfig(values map[string]string) (map[string]string, error) {
	resp := &server.PgScrubConfigResponse{}
	if err := c.post("/v1/pg_scrub_config", &server.PgScrubConfigRequest{Values: values}, resp); err != nil {
		return nil, err
	}
	return resp.Values, checkStatus(resp.Status)
}

func (c *keeperClient) SwitchSafeMode(enable bool) error {
	resp := &server.ErrorStatusResponse{}
	if err := c.post("/v1/switch_safe_mode", &server.SwitchSafeModeRequest{Enable: enable}, resp); err != nil {
		return err
	}
	return checkStatus(resp.Status)
}

func (c *keeperClient) ListBulkRuns(limit int) (*server.ListBulkRunsResponse, error) {
	resp := &server.ListBulkRunsResponse{}
	params := map[string]string{"limit": strconv.Itoa(limit)}
	if err := c.get("/v1/list_bulk_runs", params, resp); err != nil {
		return nil, err
	}
	return resp, checkStatus(resp.Status)
}
