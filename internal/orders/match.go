package orders

import "strings"

// MatchesAssignment reports whether an order's assignment field refers to
// serverID. The field is either a plain identifier or a composite
// tenant_email_userid string, so matching is layered: literal equality
// first, then the last underscore-delimited segment, then substring
// containment. Deterministic and side-effect-free.
func MatchesAssignment(assigned, serverID string) bool {
	if assigned == "" || serverID == "" {
		return false
	}
	if assigned == serverID {
		return true
	}
	if i := strings.LastIndex(assigned, "_"); i >= 0 && assigned[i+1:] == serverID {
		return true
	}
	return strings.Contains(assigned, serverID)
}
