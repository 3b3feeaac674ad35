package model

// AuthorState is the display state of an owner's info. It is one of
// AuthorLoaded, AuthorLoading or AuthorUnknown.
type AuthorState interface {
	authorState()
}

// AuthorLoaded carries a resolved snapshot.
type AuthorLoaded struct {
	Snapshot AuthorSnapshot
}

// AuthorLoading means a lookup is in flight.
type AuthorLoading struct{}

// AuthorUnknown means no lookup succeeded.
type AuthorUnknown struct{}

func (AuthorLoaded) authorState()  {}
func (AuthorLoading) authorState() {}
func (AuthorUnknown) authorState() {}

// DisplaySnapshot returns the snapshot to render for state.
func DisplaySnapshot(state AuthorState) AuthorSnapshot {
	switch s := state.(type) {
	case AuthorLoaded:
		return s.Snapshot
	case AuthorLoading:
		return AuthorSnapshot{DisplayName: "loading"}
	default:
		return UnknownAuthor
	}
}

// StateName is a short label for state, used in API responses.
func StateName(state AuthorState) string {
	switch state.(type) {
	case AuthorLoaded:
		return "loaded"
	case AuthorLoading:
		return "loading"
	default:
		return "unknown"
	}
}
