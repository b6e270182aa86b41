package trade

import (
	"tradepost/database/models"
)

// Request carries the raw offer fields of a create or edit call, exactly as
// the boundary layer received them.
type Request struct {
	RecipientID      int64   `json:"recipient_id"`
	Comments         string  `json:"comments"`
	StackIDs         []int64 `json:"stack_ids"`
	CurrencyID       string  `json:"currency_id"`
	CurrencyQuantity int64   `json:"currency_quantity"`
	CharacterID      int64   `json:"character_id"`
}

// Offer converts the request into the persisted per-side offer document.
func (r Request) Offer() models.Offer {
	return models.Offer{
		StackIDs:         r.StackIDs,
		CurrencyID:       r.CurrencyID,
		CurrencyQuantity: r.CurrencyQuantity,
		CharacterID:      r.CharacterID,
	}
}

// validateShape collects every offer-content violation that can be checked
// without touching storage. All violations are reported, not just the first.
func validateShape(r Request) *ErrorList {
	errs := &ErrorList{}

	if r.CurrencyQuantity < 0 {
		errs.Add(ClassValidation, "Currency quantity cannot be negative.")
	}
	if r.CurrencyQuantity > 0 && r.CurrencyID == "" {
		errs.Add(ClassValidation, "A currency must be selected to offer a currency amount.")
	}

	seen := make(map[int64]bool, len(r.StackIDs))
	for _, id := range r.StackIDs {
		if seen[id] {
			errs.Add(ClassValidation, "Item stack %d is listed more than once.", id)
			continue
		}
		seen[id] = true
	}

	return errs
}

// checkMutable returns the classified errors barring a party mutation of the
// trade, or nil when the mutation may proceed. Party membership is checked
// before status so a non-party probing a closed trade learns nothing about
// its state.
func checkMutable(t *models.Trade, actor Actor) *ErrorList {
	if !t.IsParty(actor.ID) {
		return forbidden("You are not a party to this trade.")
	}
	if !t.IsOpen() {
		return conflict("This trade is no longer open.")
	}
	return nil
}

// checkSettleable returns the classified errors barring final confirmation.
func checkSettleable(t *models.Trade, actor Actor) *ErrorList {
	if errs := checkMutable(t, actor); errs != nil {
		return errs
	}
	if !t.BothConfirmed() {
		errs := &ErrorList{}
		if !t.SenderConfirmed {
			errs.Add(ClassConflict, "The sender has not confirmed their offer.")
		}
		if !t.RecipientConfirmed {
			errs.Add(ClassConflict, "The recipient has not confirmed their offer.")
		}
		return errs
	}
	return nil
}
