package mgr

import (
	"context"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
)

const (
	ActionIn   = "in"
	ActionOut  = "out"
	ActionDown = "down"
	ActionLost = "lost"
)

type RawHost struct {
	Name string `json:"name"`
}

type RawHistory struct {
	OpOutBytes []osd.Sample `json:"op_out_bytes"`
	OpInBytes  []osd.Sample `json:"op_in_bytes"`
}

// RawOsd is one item of the node list endpoint. Stats and StatsHistory are
// nil when the osd didn't report them yet.
type RawOsd struct {
	Id           int64       `json:"osd"`
	In           int         `json:"in"`
	Up           int         `json:"up"`
	State        []string    `json:"state"`
	Weight       float64     `json:"weight"`
	Host         RawHost     `json:"host"`
	Stats        *osd.Stats  `json:"stats,omitempty"`
	StatsHistory *RawHistory `json:"stats_history,omitempty"`
}

type PgHealth struct {
	PgId    string  `json:"pgid"`
	Acting  []int64 `json:"acting"`
	Live    []int64 `json:"live"`
	MinSize int     `json:"min_size"`
}

type OsdSafetyInfo struct {
	Id                int64      `json:"id"`
	MetadataAvailable bool       `json:"metadata_available"`
	Pgs               []PgHealth `json:"pgs"`
}

type SafetyPayload struct {
	Osds []OsdSafetyInfo `json:"osds"`
}

func (p *SafetyPayload) Find(id int64) *OsdSafetyInfo {
	for i := range p.Osds {
		if p.Osds[i].Id == id {
			return &p.Osds[i]
		}
	}
	return nil
}

// ControlPlane is the cluster management api. Implementations return
// *status.ErrorStatus errors carrying NotFound, Conflict, InvalidParameter
// or Unavailable.
type ControlPlane interface {
	ListOsds(ctx context.Context) ([]*RawOsd, error)
	SafetyInfo(ctx context.Context, ids []int64) (*SafetyPayload, error)

	Mark(ctx context.Context, id int64, action string) error
	Reweight(ctx context.Context, id int64, weight float64) error
	Destroy(ctx context.Context, id int64) error
	Purge(ctx context.Context, id int64) error
	Scrub(ctx context.Context, id int64, deep bool) error

	GetFlags(ctx context.Context) ([]string, error)
	SetFlags(ctx context.Context, flags []string) error

	// GetConfig returns the osd section values of the named options. Options
	// never set are absent from the output.
	GetConfig(ctx context.Context, names []string) (map[string]string, error)
	SetConfig(ctx context.Context, values map[string]string) error

	Ping(ctx context.Context) error
}
