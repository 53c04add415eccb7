package negotiation

import "fmt"

// Phase is the lifecycle position of the current attempt.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseCreatingOffer
	PhaseAwaitingAnswer
	PhaseReceivingOffer
	PhaseAwaitingUserAccept
	PhaseCreatingAnswer
	PhaseConnected
)

var phaseNames = [...]string{
	PhaseIdle:               "idle",
	PhaseCreatingOffer:      "creating-offer",
	PhaseAwaitingAnswer:     "awaiting-answer",
	PhaseReceivingOffer:     "receiving-offer",
	PhaseAwaitingUserAccept: "awaiting-user-accept",
	PhaseCreatingAnswer:     "creating-answer",
	PhaseConnected:          "connected",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", p)
}

// Negotiating reports whether p lies between Idle and Connected.
func (p Phase) Negotiating() bool {
	return p != PhaseIdle && p != PhaseConnected
}

// Role is which side of the call this peer plays.
type Role string

const (
	RoleNone   Role = ""
	RoleSharer Role = "sharer" // answers the offer and sends media
	RoleViewer Role = "viewer" // makes the offer and receives media
)

// CandidatePolicy decides how local candidates reach the peer.
type CandidatePolicy uint8

const (
	// StreamImmediately publishes the description as soon as it exists and
	// every candidate as a separate message.
	StreamImmediately CandidatePolicy = iota
	// BufferUntilGatheringComplete waits for gathering to finish and ships
	// one self-contained description, also rendered as a copy/paste code.
	BufferUntilGatheringComplete
)

func (c CandidatePolicy) String() string {
	if c == BufferUntilGatheringComplete {
		return "buffer"
	}
	return "stream"
}

// ParseCandidatePolicy accepts "stream" or "buffer" (alias "manual").
func ParseCandidatePolicy(s string) (CandidatePolicy, error) {
	switch s {
	case "", "stream":
		return StreamImmediately, nil
	case "buffer", "manual":
		return BufferUntilGatheringComplete, nil
	}
	return 0, fmt.Errorf("unknown candidate policy %q", s)
}

// ConflictPolicy decides what happens to an offer that arrives while
// another attempt is active.
type ConflictPolicy uint8

const (
	// ConflictRejectBusy drops the new offer and replies with busy.
	ConflictRejectBusy ConflictPolicy = iota
	// ConflictIgnore drops the new offer silently.
	ConflictIgnore
	// ConflictReplace tears down the active attempt and takes the new call.
	ConflictReplace
)

func (c ConflictPolicy) String() string {
	switch c {
	case ConflictIgnore:
		return "ignore"
	case ConflictReplace:
		return "replace"
	}
	return "busy"
}

// ParseConflictPolicy accepts "busy", "ignore" or "replace".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch s {
	case "", "busy":
		return ConflictRejectBusy, nil
	case "ignore":
		return ConflictIgnore, nil
	case "replace":
		return ConflictReplace, nil
	}
	return 0, fmt.Errorf("unknown conflict policy %q", s)
}
