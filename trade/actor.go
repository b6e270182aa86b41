package trade

// Actor is the authenticated identity every lifecycle operation receives
// explicitly. The engine never looks the caller up from ambient state.
type Actor struct {
	ID           int64
	Username     string
	ManageTrades bool
}

// CanView reports whether the actor may see a trade in the given state.
// Open, canceled and rejected trades are party-only; completed trades are
// also visible to moderators.
func (a Actor) CanView(senderID, recipientID int64, completed bool) bool {
	if a.ID == senderID || a.ID == recipientID {
		return true
	}
	return completed && a.ManageTrades
}
