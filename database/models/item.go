package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Item struct {
	bun.BaseModel `bun:"table:items,alias:i"`

	ID          string                 `bun:"id,pk"`
	Name        string                 `bun:"name,notnull"`
	Description string                 `bun:"description"`
	Category    string                 `bun:"category,notnull"`
	Rarity      int                    `bun:"rarity,notnull"`
	MaxStack    int                    `bun:"max_stack,notnull"`
	Metadata    map[string]interface{} `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time              `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time              `bun:"updated_at,notnull,default:current_timestamp"`
}

// HoldingTrade is the holding_type value for stacks escrowed to a trade.
const HoldingTrade = "trade"

// ItemStack is a user's holding of a single item. While committed to an open
// trade the stack is escrowed: holding_type/holding_id point at the trade and
// the stack disappears from the owner's free inventory.
type ItemStack struct {
	bun.BaseModel `bun:"table:item_stacks,alias:s"`

	ID          int64     `bun:"id,pk,autoincrement"`
	OwnerID     int64     `bun:"owner_id,notnull"`
	ItemID      string    `bun:"item_id,notnull"`
	Quantity    int64     `bun:"quantity,notnull,default:1"`
	HoldingType string    `bun:"holding_type,notnull,default:''"`
	HoldingID   int64     `bun:"holding_id,notnull,default:0"`
	ObtainedAt  time.Time `bun:"obtained_at,notnull,default:current_timestamp"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`

	Item *Item `bun:"rel:has-one,join:item_id=id"`
}

// Hold is the escrow state of a stack: either free, or held by exactly one
// trade. Modeled as a variant so callers handle both cases explicitly instead
// of juggling a nullable column pair.
type Hold struct {
	Held    bool
	TradeID int64
}

// Hold returns the stack's current escrow state.
func (s *ItemStack) Hold() Hold {
	if s.HoldingType == HoldingTrade && s.HoldingID != 0 {
		return Hold{Held: true, TradeID: s.HoldingID}
	}
	return Hold{}
}

// IsFree reports whether the stack can be committed to a new trade.
func (s *ItemStack) IsFree() bool {
	return !s.Hold().Held
}

// HeldBy reports whether the stack is escrowed to the given trade.
func (s *ItemStack) HeldBy(tradeID int64) bool {
	h := s.Hold()
	return h.Held && h.TradeID == tradeID
}
