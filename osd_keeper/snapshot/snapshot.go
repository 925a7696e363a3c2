package snapshot

import (
	"time"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"

	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"
)

// Snapshot is one published read of the cluster. It's never modified after
// publishing, callers must not modify the nodes either.
type Snapshot struct {
	Nodes  []*osd.Node
	ReadAt time.Time
	index  *treemap.Map
}

func newSnapshot(nodes []*osd.Node, readAt time.Time) *Snapshot {
	index := treemap.NewWith(godsutils.Int64Comparator)
	for _, n := range nodes {
		index.Put(n.Id, n)
	}
	ordered := make([]*osd.Node, 0, index.Size())
	for _, v := range index.Values() {
		ordered = append(ordered, v.(*osd.Node))
	}
	return &Snapshot{Nodes: ordered, ReadAt: readAt, index: index}
}

func (s *Snapshot) Get(id int64) *osd.Node {
	v, ok := s.index.Get(id)
	if !ok {
		return nil
	}
	return v.(*osd.Node)
}

func (s *Snapshot) Len() int {
	return len(s.Nodes)
}

func (s *Snapshot) Ids() osd.IdSet {
	output := osd.NewIdSet()
	for _, n := range s.Nodes {
		output.Add(n.Id)
	}
	return output
}

func (s *Snapshot) PartialIds() []int64 {
	var output []int64
	for _, n := range s.Nodes {
		if n.Partial {
			output = append(output, n.Id)
		}
	}
	return output
}

// CountByTag counts nodes per status tag, all 6 tags are present.
func (s *Snapshot) CountByTag() map[string]int {
	output := map[string]int{}
	for _, tag := range osd.AllStatusTags() {
		output[tag.String()] = osd.CountNodes(s.Nodes, osd.GetNodeByTag(tag))
	}
	return output
}
