package model

import "fmt"

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s Status) Valid() bool { return s.rank() > 0 }

// CanAdvanceTo reports whether s -> next is a legal delivery transition.
// Only single forward steps are legal: sent -> delivered -> read.
func (s Status) CanAdvanceTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return next.rank() == s.rank()+1
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown message status %q", v)
	}
	return s, nil
}
