package messaging

import (
	"context"

	"gearhead-backend/internal/models"

	"github.com/rs/zerolog"
)

// LockedReason is reported when the linked bid does not permit messaging.
const LockedReason = "locked"

type Decision struct {
	Unlocked bool   `json:"unlocked"`
	BidID    string `json:"bid_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	// Degraded is set when the check itself failed and a fallback applied.
	Degraded bool `json:"degraded,omitempty"`
}

func unlockedDecision(bidID string) Decision {
	return Decision{Unlocked: true, BidID: bidID}
}

func lockedDecision(bidID string) Decision {
	return Decision{Unlocked: false, BidID: bidID, Reason: LockedReason}
}

// Policy decides whether a conversation currently permits sending.
type Policy interface {
	Evaluate(ctx context.Context, conv *models.Conversation) (Decision, error)
}

// UnlockChecker is the server-side predicate over a bid.
type UnlockChecker interface {
	MessagingUnlocked(ctx context.Context, bidID string) (bool, error)
}

// RPCPolicy asks the backend predicate about the conversation's linked bid.
// Unlinked conversations are always unlocked.
type RPCPolicy struct {
	checker UnlockChecker
}

func NewRPCPolicy(checker UnlockChecker) *RPCPolicy {
	return &RPCPolicy{checker: checker}
}

func (p *RPCPolicy) Evaluate(ctx context.Context, conv *models.Conversation) (Decision, error) {
	bidID := conv.LinkedBidID()
	if bidID == "" {
		return unlockedDecision(""), nil
	}
	ok, err := p.checker.MessagingUnlocked(ctx, bidID)
	if err != nil {
		return Decision{BidID: bidID}, err
	}
	if !ok {
		return lockedDecision(bidID), nil
	}
	return unlockedDecision(bidID), nil
}

// FailOpen treats a failed check as unlocked. The insert trigger still
// rejects sends the predicate would have refused.
type FailOpen struct {
	Policy Policy
	Logger zerolog.Logger
}

func (p FailOpen) Evaluate(ctx context.Context, conv *models.Conversation) (Decision, error) {
	d, err := p.Policy.Evaluate(ctx, conv)
	if err != nil {
		p.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("unlock check failed, allowing")
		d = unlockedDecision(conv.LinkedBidID())
		d.Degraded = true
	}
	return d, nil
}

// FailClosed treats a failed check as locked.
type FailClosed struct {
	Policy Policy
	Logger zerolog.Logger
}

func (p FailClosed) Evaluate(ctx context.Context, conv *models.Conversation) (Decision, error) {
	d, err := p.Policy.Evaluate(ctx, conv)
	if err != nil {
		p.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("unlock check failed, refusing")
		d = lockedDecision(conv.LinkedBidID())
		d.Degraded = true
	}
	return d, nil
}

// NewPolicy wraps the predicate check in the configured failure mode.
func NewPolicy(checker UnlockChecker, failClosed bool, logger zerolog.Logger) Policy {
	inner := NewRPCPolicy(checker)
	if failClosed {
		return FailClosed{Policy: inner, Logger: logger}
	}
	return FailOpen{Policy: inner, Logger: logger}
}
