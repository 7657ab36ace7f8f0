package profile

import (
	"context"
	"errors"
)

// ErrUnknownUser is returned by GetBlockList when the user has no profile record.
var ErrUnknownUser = errors.New("unknown user")

type Profile struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	PushToken string `json:"push_token,omitempty"`
}

// Store is the read side used by the gate and push dispatch.
type Store interface {
	// GetProfile returns nil, nil when the user is not known.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	GetBlockList(ctx context.Context, userID string) ([]string, error)
}

// Repository adds the writes performed by the API.
type Repository interface {
	Store
	UpsertProfile(ctx context.Context, p Profile) error
	Block(ctx context.Context, userID, targetID string) error
	Unblock(ctx context.Context, userID, targetID string) error
	// RecordInterest notes that fromID is interested in toID.
	RecordInterest(ctx context.Context, fromID, toID string) error
	// InterestedBy lists the users who recorded interest in userID.
	InterestedBy(ctx context.Context, userID string) ([]string, error)
}
