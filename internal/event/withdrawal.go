// internal/event/withdrawal.go
package event

// WithdrawFunds pays settled cash out of the ledger to the holder.
type WithdrawFunds struct {
	Header
	Holder string `json:"holder"`
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}

func (w *WithdrawFunds) EventType() EventType {
	return EventTypeFundsWithdrawn
}
