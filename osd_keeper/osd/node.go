package osd

import (
	"encoding/json"
	"fmt"
)

// Sample is one (timestamp, value) point, encoded as a 2-element array.
type Sample struct {
	Timestamp float64
	Value     float64
}

func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{s.Timestamp, s.Value})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample should be [timestamp, value], got %v", pair)
	}
	s.Timestamp, s.Value = pair[0], pair[1]
	return nil
}

type Stats struct {
	NumPg         int64   `json:"numpg"`
	StatBytes     int64   `json:"stat_bytes"`
	StatBytesUsed int64   `json:"stat_bytes_used"`
	OpR           float64 `json:"op_r"`
	OpW           float64 `json:"op_w"`
}

type Node struct {
	Id         int64     `json:"id"`
	Host       string    `json:"host"`
	In         bool      `json:"in"`
	Up         bool      `json:"up"`
	States     []string  `json:"state"`
	Weight     float64   `json:"weight"`
	Stats      Stats     `json:"stats"`
	OpOutBytes []Sample  `json:"op_out_bytes"`
	OpInBytes  []Sample  `json:"op_in_bytes"`
	Partial    bool      `json:"partial"`
	Tag        StatusTag `json:"collected_states"`
}

// NewNode derives the status tag from the raw flags, it's the only way the
// snapshot reader builds records.
func NewNode(id int64, in, up bool, states []string) *Node {
	return &Node{
		Id:     id,
		In:     in,
		Up:     up,
		States: states,
		Tag:    DeriveTag(in, up, states),
	}
}

func (n *Node) Usage() float64 {
	if n.Stats.StatBytes <= 0 {
		return 0
	}
	return float64(n.Stats.StatBytesUsed) / float64(n.Stats.StatBytes)
}

func sampleValues(samples []Sample) []float64 {
	output := make([]float64, 0, len(samples))
	for _, s := range samples {
		output = append(output, s.Value)
	}
	return output
}

func (n *Node) ReadHistory() []float64 {
	return sampleValues(n.OpOutBytes)
}

func (n *Node) WriteHistory() []float64 {
	return sampleValues(n.OpInBytes)
}

func (n *Node) LogStr() string {
	return fmt.Sprintf("osd.%d@%s", n.Id, n.Host)
}

func (n *Node) Clone() *Node {
	result := *n
	result.States = append([]string(nil), n.States...)
	result.OpOutBytes = append([]Sample(nil), n.OpOutBytes...)
	result.OpInBytes = append([]Sample(nil), n.OpInBytes...)
	return &result
}

type NodeFilter func(n *Node) bool

func ReverseFilter(f NodeFilter) NodeFilter {
	return func(n *Node) bool {
		return !f(n)
	}
}

func GetUpNode(n *Node) bool {
	return n.Tag.Availability == Up
}

func GetInNode(n *Node) bool {
	return n.Tag.Membership == In
}

func GetPartialNode(n *Node) bool {
	return n.Partial
}

func GetNodeByTag(tag StatusTag) NodeFilter {
	return func(n *Node) bool {
		return n.Tag == tag
	}
}

func CountNodes(nodes []*Node, filters ...NodeFilter) int {
	ans := 0
	for _, n := range nodes {
		passFilters := true
		for _, f := range filters {
			if !f(n) {
				passFilters = false
				break
			}
		}
		if passFilters {
			ans++
		}
	}
	return ans
}

func MapNodes(nodes []*Node) map[int64]*Node {
	output := make(map[int64]*Node, len(nodes))
	for _, n := range nodes {
		output[n.Id] = n
	}
	return output
}
