package safety

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kuaishou/open_osd_keeper/osd_keeper/osd"
	"github.com/kuaishou/open_osd_keeper/osd_keeper/status"
)

type Eligibility int8

const (
	Unknown Eligibility = iota
	Eligible
	Ineligible
)

var eligibilityRep = []string{"unknown", "eligible", "ineligible"}

func (e Eligibility) String() string {
	if e < Unknown || e > Ineligible {
		return "unknown"
	}
	return eligibilityRep[e]
}

func (e Eligibility) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Eligibility) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, rep := range eligibilityRep {
		if rep == name {
			*e = Eligibility(i)
			return nil
		}
	}
	return fmt.Errorf("unknown eligibility %q", name)
}

type Verdict struct {
	Id          int64       `json:"id"`
	Kind        osd.Kind    `json:"kind"`
	Eligibility Eligibility `json:"eligibility"`
	Reasons     []string    `json:"reasons"`

	issued bool
}

func (v *Verdict) block(eligibility Eligibility, reason string) *Verdict {
	v.Eligibility = eligibility
	v.Reasons = append(v.Reasons, reason)
	return v
}

// Status is nil for eligible verdicts, otherwise SafetyBlocked carrying the
// reasons.
func (v *Verdict) Status() *status.ErrorStatus {
	if v.Eligibility == Eligible {
		return nil
	}
	return status.ErrorMsg(
		status.SafetyBlocked,
		"osd.%d %s for %s: %s",
		v.Id, v.Eligibility.String(), v.Kind.String(), strings.Join(v.Reasons, "; "),
	)
}

// Clearance proves the Evaluator found the node eligible for the kind. It can
// only be obtained from a verdict the Evaluator issued, the zero value is
// invalid.
type Clearance struct {
	id   int64
	kind osd.Kind
}

func (v *Verdict) Clearance() (Clearance, bool) {
	if !v.issued || v.Eligibility != Eligible || !v.Kind.Destructive() {
		return Clearance{}, false
	}
	return Clearance{id: v.Id, kind: v.Kind}, true
}

func (c Clearance) Id() int64 {
	return c.id
}

func (c Clearance) Kind() osd.Kind {
	return c.kind
}

func (c Clearance) Valid() bool {
	return c.kind.Destructive()
}
