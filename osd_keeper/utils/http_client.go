package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type CheckHttpResp func(httpResp *http.Response, response interface{}) error

func DefaultCheckResp(httpResp *http.Response, response interface{}) error {
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("req got http status error: %s", httpResp.Status)
	}
	return DecodeJsonBody(httpResp, response)
}

// DecodeJsonBody tolerates an empty body and a nil response target.
func DecodeJsonBody(httpResp *http.Response, response interface{}) error {
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return err
	}
	if response == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, response)
}

type JsonRequest struct {
	Method  string
	Url     string
	Header  map[string]string
	Params  map[string]string
	Request interface{}
}

func HttpDoJson(
	ctx context.Context,
	client *http.Client,
	req *JsonRequest,
	response interface{},
	check CheckHttpResp,
) error {
	var body io.Reader
	if req.Request != nil {
		data, err := json.Marshal(req.Request)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.Url+parserParams(req.Params), body)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Header {
		httpReq.Header.Set(key, value)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if check == nil {
		check = DefaultCheckResp
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return check(resp, response)
}

func HttpGet(
	ctx context.Context,
	url string,
	params map[string]string,
	response interface{},
) error {
	return HttpDoJson(
		ctx,
		nil,
		&JsonRequest{Method: http.MethodGet, Url: url, Params: params},
		response,
		DefaultCheckResp,
	)
}

func HttpPostJson(
	ctx context.Context,
	url string,
	request interface{},
	response interface{},
) error {
	return HttpDoJson(
		ctx,
		nil,
		&JsonRequest{Method: http.MethodPost, Url: url, Request: request},
		response,
		DefaultCheckResp,
	)
}

func parserParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	return "?" + values.Encode()
}
