package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type StrlistFlag []string

func (s *StrlistFlag) String() string {
	return fmt.Sprint(*s)
}

func (s *StrlistFlag) Set(value string) error {
	if len(*s) > 0 {
		return errors.New("str array flag already set")
	}
	*s = strings.Split(value, ",")
	return nil
}

// ParseIdList accepts "1,2,3" as well as the json-ish "[1, 2, 3]".
func ParseIdList(value string) ([]int64, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var output []int64
	for _, item := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(item), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse %q as osd id: %s", item, err.Error())
		}
		output = append(output, id)
	}
	return output, nil
}

func JoinIds(ids []int64) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, strconv.FormatInt(id, 10))
	}
	return strings.Join(items, ",")
}
