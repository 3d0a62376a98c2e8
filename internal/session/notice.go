package session

type NoticeKind int

const (
	NoticeWaiting NoticeKind = iota
	NoticeSearching
	NoticeTeamFormed
	NoticeReconnected
	NoticeFailure
	NoticeMessage
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeWaiting:
		return "waiting"
	case NoticeSearching:
		return "searching"
	case NoticeTeamFormed:
		return "team_formed"
	case NoticeReconnected:
		return "reconnected"
	case NoticeFailure:
		return "failure"
	case NoticeMessage:
		return "message"
	}
	return "unknown"
}

// Notice is a user facing event, the equivalent of a toast.
type Notice struct {
	Kind   NoticeKind
	Title  string
	Detail string
}

// ActionError is a user-actionable failure. Error returns the readable reason.
type ActionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ActionError) Error() string { return e.Reason }
func (e *ActionError) Unwrap() error { return e.Err }
