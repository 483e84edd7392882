package supabase

import (
	"context"

	"gearhead-backend/internal/models"
)

// UnlockFunction is the server-side predicate deciding whether a bid
// permits messaging.
const UnlockFunction = "fn_is_messaging_unlocked"

type BidRepo struct {
	c *Client
}

func NewBidRepo(c *Client) *BidRepo {
	return &BidRepo{c: c}
}

func (r *BidRepo) MessagingUnlocked(ctx context.Context, bidID string) (bool, error) {
	var unlocked bool
	if err := r.c.RPC(ctx, UnlockFunction, map[string]string{"bid_id_param": bidID}, &unlocked); err != nil {
		return false, err
	}
	return unlocked, nil
}

func (r *BidRepo) GetBid(ctx context.Context, id string) (*models.Bid, error) {
	var bid models.Bid
	if err := r.c.From("bids").Select("id,status,bidder_id,seller_id,created_at,updated_at").Eq("id", id).Single().Execute(ctx, &bid); err != nil {
		return nil, err
	}
	return &bid, nil
}
