package osd

import (
	"encoding/json"
	"fmt"
)

type Membership int8

const (
	In Membership = iota
	Out
)

func (m Membership) String() string {
	if m == In {
		return "in"
	}
	return "out"
}

type Availability int8

const (
	Up Availability = iota
	Down
	Destroyed
)

func (a Availability) String() string {
	switch a {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "destroyed"
	}
}

const kStateDestroyed = "destroyed"

// StatusTag is never stored, it is derived from the raw flags whenever a
// node record is built.
type StatusTag struct {
	Membership   Membership
	Availability Availability
}

func DeriveTag(in, up bool, states []string) StatusTag {
	tag := StatusTag{Membership: Out, Availability: Down}
	if in {
		tag.Membership = In
	}
	for _, s := range states {
		if s == kStateDestroyed {
			tag.Availability = Destroyed
			return tag
		}
	}
	if up {
		tag.Availability = Up
	}
	return tag
}

func AllStatusTags() []StatusTag {
	var output []StatusTag
	for _, m := range []Membership{In, Out} {
		for _, a := range []Availability{Up, Down, Destroyed} {
			output = append(output, StatusTag{Membership: m, Availability: a})
		}
	}
	return output
}

func (t StatusTag) Strings() []string {
	return []string{t.Membership.String(), t.Availability.String()}
}

func (t StatusTag) String() string {
	return fmt.Sprintf("%s+%s", t.Membership.String(), t.Availability.String())
}

func (t StatusTag) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Strings())
}

func (t *StatusTag) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if len(items) != 2 {
		return fmt.Errorf("status tag should have 2 items, got %v", items)
	}
	switch items[0] {
	case "in":
		t.Membership = In
	case "out":
		t.Membership = Out
	default:
		return fmt.Errorf("unknown membership %q", items[0])
	}
	switch items[1] {
	case "up":
		t.Availability = Up
	case "down":
		t.Availability = Down
	case kStateDestroyed:
		t.Availability = Destroyed
	default:
		return fmt.Errorf("unknown availability %q", items[1])
	}
	return nil
}
