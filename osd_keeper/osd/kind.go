package osd

import (
	"encoding/json"
	"fmt"
)

type Kind int32

const (
	KindInvalid Kind = iota
	MarkIn
	MarkOut
	MarkDown
	Reweight
	MarkLost
	Destroy
	Purge
	Scrub
	DeepScrub
	KindCount
)

type kindTraits struct {
	name        string
	destructive bool
	removal     bool
	singleNode  bool
}

var kindTable = [KindCount]kindTraits{
	KindInvalid: {name: "invalid"},
	MarkIn:      {name: "markIn"},
	MarkOut:     {name: "markOut"},
	MarkDown:    {name: "markDown"},
	Reweight:    {name: "reweight", singleNode: true},
	MarkLost:    {name: "markLost", destructive: true},
	Destroy:     {name: "destroy", destructive: true, removal: true},
	Purge:       {name: "purge", destructive: true, removal: true},
	Scrub:       {name: "scrub"},
	DeepScrub:   {name: "deepScrub"},
}

func init() {
	for k := KindInvalid; k < KindCount; k++ {
		if kindTable[k].name == "" {
			panic(fmt.Sprintf("osd kind %d has no traits", int32(k)))
		}
	}
}

func AllKinds() []Kind {
	var output []Kind
	for k := KindInvalid + 1; k < KindCount; k++ {
		output = append(output, k)
	}
	return output
}

func ParseKind(name string) (Kind, error) {
	for _, k := range AllKinds() {
		if kindTable[k].name == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown osd action %q", name)
}

func (k Kind) Valid() bool {
	return k > KindInvalid && k < KindCount
}

func (k Kind) String() string {
	if k < KindInvalid || k >= KindCount {
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
	return kindTable[k].name
}

// Destructive kinds are irreversible and gated by a safety verdict.
func (k Kind) Destructive() bool {
	return k.Valid() && kindTable[k].destructive
}

// Removal kinds take the osd out of the cluster map for good.
func (k Kind) Removal() bool {
	return k.Valid() && kindTable[k].removal
}

func (k Kind) SingleNode() bool {
	return k.Valid() && kindTable[k].singleNode
}

// Satisfied reports whether n is already in the state k leads to. Kinds
// without an observable target state are never satisfied.
func (k Kind) Satisfied(n *Node) bool {
	switch k {
	case MarkIn:
		return n.Tag.Membership == In
	case MarkOut:
		return n.Tag.Membership == Out
	case MarkDown:
		return n.Tag.Availability != Up
	case Destroy:
		return n.Tag.Availability == Destroyed
	}
	return false
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
