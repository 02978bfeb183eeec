package storage

// DialogState is the SIP dialog state machine described in spec.md §4.7.
type DialogState int

const (
	// StateUntracked is the initial state for dialogs not started by an
	// INVITE (e.g. SUBSCRIBE); spec.md §4.7 says these are stored but not
	// tracked for state.
	StateUntracked DialogState = iota
	StateCallSetup
	StateInCall
	StateCancelled
	StateBusy
	StateRejected
	StateDiverted
	StateCompleted
)

func (s DialogState) String() string {
	switch s {
	case StateCallSetup:
		return "CALL_SETUP"
	case StateInCall:
		return "IN_CALL"
	case StateCancelled:
		return "CANCELLED"
	case StateBusy:
		return "BUSY"
	case StateRejected:
		return "REJECTED"
	case StateDiverted:
		return "DIVERTED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNTRACKED"
	}
}

// IsTerminal reports whether a state ends the dialog's lifecycle, per
// spec.md §4.7/§4.8 (used for LRU eviction preference and SDP
// expectation grace-window start).
func (s DialogState) IsTerminal() bool {
	switch s {
	case StateCancelled, StateBusy, StateRejected, StateDiverted, StateCompleted:
		return true
	default:
		return false
	}
}

// applyTransition advances a call's dialog state given an arriving
// message, per the table in spec.md §4.7. Rows are evaluated in the
// declared order; the first matching row wins.
// It returns true if the state changed, and whether this message should
// be recorded as the call's start/end message.
func applyTransition(c *Call, method string, isResponse bool, statusCode, cseq int) (changed, recordStart, recordEnd bool) {
	switch {
	case c.State == StateCallSetup && method == "ACK" && cseq == c.InviteCSeq:
		c.State = StateInCall
		return true, true, false

	case c.State == StateCallSetup && method == "CANCEL":
		c.State = StateCancelled
		return true, false, false

	case c.State == StateCallSetup && isResponse && (statusCode == 480 || statusCode == 486 || statusCode == 600):
		c.State = StateBusy
		return true, false, false

	case c.State == StateCallSetup && isResponse && statusCode > 400 && cseq == c.InviteCSeq:
		c.State = StateRejected
		return true, false, false

	case c.State == StateCallSetup && isResponse && statusCode > 300:
		c.State = StateDiverted
		return true, false, false

	case c.State == StateInCall && method == "BYE":
		c.State = StateCompleted
		return true, false, true

	case c.State != StateInCall && method == "INVITE":
		c.State = StateCallSetup
		c.InviteCSeq = cseq
		return true, false, false
	}

	return false, false, false
}
