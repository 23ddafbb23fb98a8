package callengine

import "fmt"

// causeDescription maps a channel destroy cause code to the human-readable
// string persisted on the contact row. Unknown codes fall back to a generic
// label that still carries the numeric code for diagnosis.
func causeDescription(code int) string {
	switch code {
	case 1:
		return "unassigned number"
	case 16:
		return "normal clearing"
	case 17:
		return "busy"
	case 18:
		return "no user response"
	case 19:
		return "no answer"
	case 21:
		return "rejected"
	case 28:
		return "invalid number"
	case 31:
		return "general failure"
	case 34:
		return "channel unavailable"
	default:
		return fmt.Sprintf("unknown failure (code %d)", code)
	}
}

// terminatesTrunkLoop reports whether a destroy cause should stop the trunk
// loop outright rather than trying the next trunk. Normal clearing (16) and
// busy (17) are callee-level outcomes: the number was reached and the trunk
// is not at fault, so retrying on another trunk would not help.
func terminatesTrunkLoop(code int) bool {
	return code == 16 || code == 17
}
