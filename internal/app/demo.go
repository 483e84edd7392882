package app

import (
	"context"

	"gearhead-backend/internal/api"
	"gearhead-backend/internal/models"

	"github.com/rs/zerolog"
)

const demoPassword = "password123"

// DemoAccount is a seeded demo login.
type DemoAccount struct {
	Email    string
	Password string
	UserID   string
}

// SeedDemo creates a seller and two buyers. The first buyer's bid is
// accepted so their conversation is open; the second is still bidding
// and stays locked.
func SeedDemo(ctx context.Context, b *api.MemoryBackend, logger zerolog.Logger) ([]DemoAccount, error) {
	seller := DemoAccount{Email: "seller@gearhead.test", Password: demoPassword}
	buyer := DemoAccount{Email: "buyer@gearhead.test", Password: demoPassword}
	bidder := DemoAccount{Email: "bidder@gearhead.test", Password: demoPassword}

	seller.UserID = b.AddUser(seller.Email, seller.Password, "Sam Seller")
	buyer.UserID = b.AddUser(buyer.Email, buyer.Password, "Bea Buyer")
	bidder.UserID = b.AddUser(bidder.Email, bidder.Password, "Bo Bidder")

	pairs := []struct {
		buyer  DemoAccount
		status models.BidStatus
		opener string
	}{
		{buyer, models.BidStatusAccepted, "Hi! Is the car still available for pickup this weekend?"},
		{bidder, models.BidStatusOpen, ""},
	}
	for _, p := range pairs {
		conv, err := b.Store.CreateConversation(ctx, seller.UserID, p.buyer.UserID)
		if err != nil {
			return nil, err
		}
		bid := b.Store.PutBid(models.Bid{Status: p.status, BidderID: p.buyer.UserID, SellerID: seller.UserID})
		if err := b.Store.LinkBid(conv.ID, bid.ID); err != nil {
			return nil, err
		}
		if p.opener == "" {
			continue
		}
		msg, err := b.Store.InsertMessage(ctx, models.NewMessage{
			ConversationID: conv.ID,
			SenderID:       p.buyer.UserID,
			Content:        p.opener,
			MessageType:    models.MessageTypeText,
		})
		if err != nil {
			return nil, err
		}
		summary := models.ConversationSummary{LastMessage: msg.Content, LastMessageAt: msg.CreatedAt}
		if err := b.Store.UpdateConversationSummary(ctx, conv.ID, summary); err != nil {
			return nil, err
		}
	}

	accounts := []DemoAccount{seller, buyer, bidder}
	for _, acc := range accounts {
		logger.Info().Str("email", acc.Email).Str("password", acc.Password).Str("user_id", acc.UserID).Msg("Demo account")
	}
	return accounts, nil
}
