package models

import "time"

type BidStatus string

const (
	BidStatusOpen      BidStatus = "open"
	BidStatusAccepted  BidStatus = "accepted"
	BidStatusClosed    BidStatus = "closed"
	BidStatusCompleted BidStatus = "completed"
	BidStatusRejected  BidStatus = "rejected"
)

// UnlocksMessaging mirrors fn_is_messaging_unlocked. The database function
// is authoritative; this copy exists for in-process backends.
func (s BidStatus) UnlocksMessaging() bool {
	return s == BidStatusAccepted || s == BidStatusClosed
}

type Bid struct {
	ID        string    `json:"id"`
	Status    BidStatus `json:"status"`
	BidderID  string    `json:"bidder_id,omitempty"`
	SellerID  string    `json:"seller_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
