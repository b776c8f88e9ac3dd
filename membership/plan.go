package membership

import "fmt"

// RejectionError is a policy rejection detected before any remote call is
// made.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func reject(format string, args ...interface{}) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

type StepKind int

const (
	// StepAdd invites the participant into the conversation.
	StepAdd StepKind = iota
	// StepPromote grants, edits or clears administrator rights.
	StepPromote
	// StepRestrict sets restrictions, bans, unbans or removes membership.
	StepRestrict
)

func (k StepKind) String() string {
	switch k {
	case StepAdd:
		return "add"
	case StepPromote:
		return "promote"
	case StepRestrict:
		return "restrict"
	default:
		return "unknown"
	}
}

// Step is one remote operation within a plan. Status is the status submitted
// with the operation. A non-zero DelayMs means the step may only be issued
// that long after the previous step was confirmed by the remote side.
type Step struct {
	Kind    StepKind
	Status  Status
	DelayMs int64
}

// Plan is an ordered list of remote operations realizing one status
// transition. An empty plan means the transition is already in effect.
type Plan struct {
	Steps []Step
}

func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

// PlanTransition decides which remote operations move a participant from old
// to new. It is a pure function of its inputs. self reports whether the
// participant is the calling account. banHorizonSec is the lifetime of the
// transient ban used when removing a member without banning them, and
// readdDelayMs the wait the remote side demands between the two phases of a
// split transition.
func PlanTransition(old, new Status, self bool, nowSec, banHorizonSec, readdDelayMs int64) (Plan, error) {
	old = Normalize(old, nowSec)
	new = Normalize(new, nowSec)

	_, oldCreator := old.(Creator)
	nc, newCreator := new.(Creator)

	if old == new && !oldCreator {
		return Plan{}, nil
	}

	if newCreator && !oldCreator {
		return Plan{}, reject("ownership cannot be granted through a status change")
	}
	if oldCreator && !newCreator {
		return Plan{}, reject("ownership cannot be revoked through a status change")
	}
	if oldCreator && newCreator {
		return planCreatorEdit(old.(Creator), nc, self)
	}

	if _, ok := new.(Administrator); ok {
		if self {
			return Plan{}, reject("cannot promote own account")
		}
		return Plan{Steps: []Step{{Kind: StepPromote, Status: new}}}, nil
	}

	if _, ok := new.(Member); ok {
		switch old.(type) {
		case Administrator:
			// Demotion is a promote-shaped operation with cleared rights.
			return Plan{Steps: []Step{{Kind: StepPromote, Status: new}}}, nil
		case Restricted, Banned:
			return Plan{Steps: []Step{{Kind: StepRestrict, Status: new}}}, nil
		default:
			return Plan{Steps: []Step{{Kind: StepAdd, Status: new}}}, nil
		}
	}

	if self {
		if _, ok := new.(Left); !ok {
			return Plan{}, reject("cannot restrict own account")
		}
	}

	if _, ok := new.(Left); ok && old.IsMember() {
		if self {
			// leaving is a direct operation for the own account
			return Plan{Steps: []Step{{Kind: StepRestrict, Status: Left{}}}}, nil
		}
		// There is no direct operation for removing someone else without
		// banning them. A transient ban is applied first and lifted once
		// the remote side has acknowledged it.
		return Plan{Steps: []Step{
			{Kind: StepRestrict, Status: Banned{BannedUntil: nowSec + banHorizonSec}},
			{Kind: StepRestrict, Status: Left{}, DelayMs: readdDelayMs},
		}}, nil
	}

	if nr, ok := new.(Restricted); ok && nr.Member && !old.IsMember() {
		// Adding cannot carry a restriction payload. When the requested
		// restrictions already match the participant's lapsed ones a plain
		// add suffices, otherwise the restrictions are set first and
		// membership granted afterwards.
		if WithMembership(old, true) == new {
			return Plan{Steps: []Step{{Kind: StepAdd, Status: new}}}, nil
		}
		detached := nr
		detached.Member = false
		return Plan{Steps: []Step{
			{Kind: StepRestrict, Status: detached},
			{Kind: StepAdd, Status: new, DelayMs: readdDelayMs},
		}}, nil
	}

	return Plan{Steps: []Step{{Kind: StepRestrict, Status: new}}}, nil
}

func planCreatorEdit(old, new Creator, self bool) (Plan, error) {
	if !self {
		return Plan{}, reject("only the owner can change their own status")
	}
	var steps []Step
	if old.Rank != new.Rank || old.IsAnonymous != new.IsAnonymous {
		steps = append(steps, Step{Kind: StepPromote, Status: new})
	}
	if old.Member != new.Member {
		if new.Member {
			steps = append(steps, Step{Kind: StepAdd, Status: new})
		} else {
			steps = append(steps, Step{Kind: StepRestrict, Status: new})
		}
	}
	return Plan{Steps: steps}, nil
}
