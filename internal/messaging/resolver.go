package messaging

import (
	"context"
	"fmt"
	"strings"

	"gearhead-backend/internal/apperr"
	"gearhead-backend/internal/models"
)

type Outcome int

const (
	Created Outcome = iota + 1
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "created":
		*o = Created
	case "already_exists":
		*o = AlreadyExists
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

type Resolution struct {
	Conversation *models.Conversation `json:"conversation"`
	Outcome      Outcome              `json:"outcome"`
}

// Resolver finds or creates the single conversation of an unordered pair.
// Storage enforces one row per normalized pair; a lost creation race is
// answered by fetching the winner.
type Resolver struct {
	store ConversationStore
}

func NewResolver(store ConversationStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, a, b string) (*Resolution, error) {
	const op = "messaging.resolve"
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, apperr.New(apperr.KindValidation, op, "two participant ids are required")
	}
	if a == b {
		return nil, apperr.New(apperr.KindValidation, op, "participants must be different users")
	}

	conv, err := r.store.FindConversation(ctx, a, b)
	if err == nil {
		return &Resolution{Conversation: conv, Outcome: AlreadyExists}, nil
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	conv, err = r.store.CreateConversation(ctx, a, b)
	if err == nil {
		return &Resolution{Conversation: conv, Outcome: Created}, nil
	}
	if !apperr.IsKind(err, apperr.KindConflict) {
		return nil, err
	}

	conv, err = r.store.FindConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	return &Resolution{Conversation: conv, Outcome: AlreadyExists}, nil
}
