package utils

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
)

func GetReqFromHttpBody(r *http.Request, ptr interface{}) *status.ErrorStatus {
	if r.Body == nil {
		return status.ErrorMsg(status.HttpDecodeFailed, "can't find http body")
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return status.ErrorMsg(status.HttpDecodeFailed, "read body err: %v", err.Error())
	}
	if len(data) == 0 {
		return status.ErrorMsg(status.HttpDecodeFailed, "empty http body")
	}
	if err := json.Unmarshal(data, ptr); err != nil {
		return status.ErrorMsg(status.HttpDecodeFailed, "decode err: %v", err.Error())
	}
	return nil
}

func GetStringFromUrl(r *http.Request, name string) (string, *status.ErrorStatus) {
	ans := r.URL.Query().Get(name)
	if ans == "" {
		return "", status.ErrorMsg(
			status.HttpDecodeFailed,
			"can't get %s from url %v",
			name,
			r.URL.Query(),
		)
	}
	return ans, nil
}

func GetIdsFromUrl(r *http.Request, name string) ([]int64, *status.ErrorStatus) {
	ans, err := GetStringFromUrl(r, name)
	if err != nil {
		return nil, err
	}
	ids, e := ParseIdList(ans)
	if e != nil {
		return nil, status.ErrorMsg(status.HttpDecodeFailed, "%s in %v: %s", name, r.URL.Query(), e.Error())
	}
	return ids, nil
}

func GetBoolFromUrl(r *http.Request, name string) bool {
	ans, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return ans
}
