package osd

import (
	"encoding/json"

	"github.com/emirpasic/gods/sets/treeset"
	godsutils "github.com/emirpasic/gods/utils"
)

// Selection is an ordered, deduplicated set of osd ids. It's immutable,
// every operation returns a new selection.
type Selection struct {
	set *treeset.Set
}

func NewSelection(ids ...int64) Selection {
	set := treeset.NewWith(godsutils.Int64Comparator)
	for _, id := range ids {
		set.Add(id)
	}
	return Selection{set: set}
}

func (s Selection) Ids() []int64 {
	if s.set == nil {
		return nil
	}
	output := make([]int64, 0, s.set.Size())
	for _, v := range s.set.Values() {
		output = append(output, v.(int64))
	}
	return output
}

func (s Selection) Len() int {
	if s.set == nil {
		return 0
	}
	return s.set.Size()
}

func (s Selection) Empty() bool {
	return s.Len() == 0
}

func (s Selection) Contains(id int64) bool {
	return s.set != nil && s.set.Contains(id)
}

// Intersect keeps the ids present in valid. Ids that vanished since the
// selection was made are dropped without notice.
func (s Selection) Intersect(valid IdSet) Selection {
	output := NewSelection()
	for _, id := range s.Ids() {
		if valid.Contains(id) {
			output.set.Add(id)
		}
	}
	return output
}

func (s Selection) Without(ids ...int64) Selection {
	output := NewSelection(s.Ids()...)
	for _, id := range ids {
		output.set.Remove(id)
	}
	return output
}

func (s Selection) MarshalJSON() ([]byte, error) {
	ids := s.Ids()
	if ids == nil {
		ids = []int64{}
	}
	return json.Marshal(ids)
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSelection(ids...)
	return nil
}

type IdSet map[int64]bool

func NewIdSet(ids ...int64) IdSet {
	output := IdSet{}
	for _, id := range ids {
		output[id] = true
	}
	return output
}

func (s IdSet) Contains(id int64) bool {
	return s[id]
}

func (s IdSet) Add(id int64) {
	s[id] = true
}

func (s IdSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return NewSelection(ids...).Ids()
}

func (s IdSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IdSet) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIdSet(ids...)
	return nil
}
