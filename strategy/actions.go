// strategy/actions.go
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is what the controller asks the engine to do for one tick.
type Action interface {
	Description() string
}

// CloseReason says why a close-all was requested.
type CloseReason string

const (
	ReasonTakeProfit    CloseReason = "take_profit"
	ReasonGridExhausted CloseReason = "grid_exhausted"
	ReasonShutdown      CloseReason = "shutdown"
)

// NoOpAction represents that no action should be taken.
type NoOpAction struct{}

func (a *NoOpAction) Description() string { return "No operation." }

// OpenLegAction opens a new leg at the given level with a market order.
type OpenLegAction struct {
	Symbol       string
	Side         Side
	LevelIndex   int
	Quantity     decimal.Decimal
	TriggerPrice decimal.Decimal
}

func (a *OpenLegAction) Description() string {
	return fmt.Sprintf("Open %s leg L%d on %s, Amount: %s, Trigger: %s", a.Side, a.LevelIndex, a.Symbol, a.Quantity.StringFixed(8), a.TriggerPrice)
}

// CloseAllAction flattens every open leg of the symbol.
type CloseAllAction struct {
	Symbol       string
	Reason       CloseReason
	TriggerPrice decimal.Decimal
	OpenLegs     int
}

func (a *CloseAllAction) Description() string {
	return fmt.Sprintf("Close all %d legs on %s (%s), Trigger: %s", a.OpenLegs, a.Symbol, a.Reason, a.TriggerPrice)
}
