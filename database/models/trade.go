package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeCompleted TradeStatus = "completed"
	TradeCanceled  TradeStatus = "canceled"
	TradeRejected  TradeStatus = "rejected"
)

// TradeSide identifies which half of a trade an offer belongs to.
type TradeSide string

const (
	SideSender    TradeSide = "sender"
	SideRecipient TradeSide = "recipient"
)

// Offer is one party's half of a trade: item stacks, optional currency and
// an optional character.
type Offer struct {
	StackIDs         []int64 `json:"stack_ids,omitempty"`
	CurrencyID       string  `json:"currency_id,omitempty"`
	CurrencyQuantity int64   `json:"currency_quantity,omitempty"`
	CharacterID      int64   `json:"character_id,omitempty"`
}

// IsEmpty reports whether the offer carries no assets at all.
func (o Offer) IsEmpty() bool {
	return len(o.StackIDs) == 0 && o.CurrencyQuantity == 0 && o.CharacterID == 0
}

// TradeData holds both sides' offers, persisted as a single JSONB document.
type TradeData struct {
	Sender    Offer `json:"sender"`
	Recipient Offer `json:"recipient"`
}

// Side returns the offer belonging to the given side.
func (d TradeData) Side(side TradeSide) Offer {
	if side == SideSender {
		return d.Sender
	}
	return d.Recipient
}

// SetSide replaces the offer belonging to the given side.
func (d *TradeData) SetSide(side TradeSide, offer Offer) {
	if side == SideSender {
		d.Sender = offer
	} else {
		d.Recipient = offer
	}
}

type Trade struct {
	bun.BaseModel `bun:"table:trades,alias:t"`

	ID                 int64       `bun:"id,pk,autoincrement"`
	TradeID            string      `bun:"trade_id,notnull,unique"`
	SenderID           int64       `bun:"sender_id,notnull"`
	RecipientID        int64       `bun:"recipient_id,notnull"`
	Status             TradeStatus `bun:"status,notnull"`
	Data               TradeData   `bun:"data,type:jsonb"`
	SenderConfirmed    bool        `bun:"sender_confirmed,notnull,default:false"`
	RecipientConfirmed bool        `bun:"recipient_confirmed,notnull,default:false"`
	Comments           string      `bun:"comments,type:text,default:''"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// IsParty reports whether the user is the sender or recipient of the trade.
func (t *Trade) IsParty(userID int64) bool {
	return t.SenderID == userID || t.RecipientID == userID
}

// SideOf returns which side of the trade the user occupies. The second
// return value is false when the user is not a party.
func (t *Trade) SideOf(userID int64) (TradeSide, bool) {
	switch userID {
	case t.SenderID:
		return SideSender, true
	case t.RecipientID:
		return SideRecipient, true
	}
	return "", false
}

// PartnerID returns the other party's user id.
func (t *Trade) PartnerID(userID int64) int64 {
	if userID == t.SenderID {
		return t.RecipientID
	}
	return t.SenderID
}

// IsOpen reports whether the trade is still mutable.
func (t *Trade) IsOpen() bool {
	return t.Status == TradeOpen
}

// IsTerminal reports whether the trade has reached a final status.
func (t *Trade) IsTerminal() bool {
	return t.Status == TradeCompleted || t.Status == TradeCanceled || t.Status == TradeRejected
}

// BothConfirmed reports whether both parties have confirmed the current offer.
func (t *Trade) BothConfirmed() bool {
	return t.SenderConfirmed && t.RecipientConfirmed
}

// ConfirmedBy reports whether the given side has confirmed.
func (t *Trade) ConfirmedBy(side TradeSide) bool {
	if side == SideSender {
		return t.SenderConfirmed
	}
	return t.RecipientConfirmed
}

// ResetConfirmations clears both confirmation flags. Any offer change
// invalidates previously given consent.
func (t *Trade) ResetConfirmations() {
	t.SenderConfirmed = false
	t.RecipientConfirmed = false
}

// URL returns the resolvable locator for the trade, relative to the API base.
func (t *Trade) URL() string {
	return "/trades/" + t.TradeID
}
