package dispatch

import "strings"

// Action is one of the operations the dispatcher knows how to run.
type Action int

const (
	Search Action = iota + 1
	Delete
	BulkDelete
)

var actionNames = map[Action]string{
	Search:     "search",
	Delete:     "delete",
	BulkDelete: "bulk_delete",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction maps an action name to its Action. Names are case-sensitive.
func ParseAction(name string) (Action, bool) {
	for a, n := range actionNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// SplitActions splits a comma-separated action list, trimming spaces around
// each name. Order and duplicates are kept.
func SplitActions(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
