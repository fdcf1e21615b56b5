// strategy/controller.go
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"grid_hedge_bot/risk"

	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned when a confirmation does not match the
// controller state, e.g. a fill confirmed while closing.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the controller's position in the cycle.
type State int

const (
	StateIdle State = iota
	StateDirectional
	StateHedged
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateDirectional:
		return "Directional"
	case StateHedged:
		return "Hedged"
	case StateClosing:
		return "Closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// CycleSidePolicy picks the initial side of the next cycle after a close-all.
type CycleSidePolicy string

const (
	// PolicyRepeat always starts on the configured initial side.
	PolicyRepeat CycleSidePolicy = "repeat"
	// PolicyAlternate flips the side every cycle.
	PolicyAlternate CycleSidePolicy = "alternate"
	// PolicyFollowLast starts on the side of the last leg opened in the previous cycle.
	PolicyFollowLast CycleSidePolicy = "follow_last"
)

// ParseCycleSidePolicy maps a config value to a policy. Empty means repeat.
func ParseCycleSidePolicy(s string) (CycleSidePolicy, error) {
	switch p := CycleSidePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyRepeat, nil
	case PolicyRepeat, PolicyAlternate, PolicyFollowLast:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown cycle side policy %q", risk.ErrInvalidConfiguration, s)
}

// ControllerConfig holds the thresholds of the state machine. Distances are
// fractions of price (0.004 = 0.4%).
type ControllerConfig struct {
	Symbol        string
	InitialSide   Side
	EntryDistance decimal.Decimal
	TakeProfit    decimal.Decimal
	// Epsilon widens every threshold: a move counts once it is >= threshold + Epsilon.
	Epsilon    decimal.Decimal
	MaxLevels  int
	SidePolicy CycleSidePolicy
}

func (c ControllerConfig) Validate() error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("%w: symbol is empty", risk.ErrInvalidConfiguration)
	case !c.InitialSide.valid():
		return fmt.Errorf("%w: initial side %q", risk.ErrInvalidConfiguration, c.InitialSide)
	case !c.EntryDistance.IsPositive():
		return fmt.Errorf("%w: entry distance must be positive, got %s", risk.ErrInvalidConfiguration, c.EntryDistance)
	case !c.TakeProfit.IsPositive():
		return fmt.Errorf("%w: take profit must be positive, got %s", risk.ErrInvalidConfiguration, c.TakeProfit)
	case c.Epsilon.IsNegative():
		return fmt.Errorf("%w: epsilon must not be negative, got %s", risk.ErrInvalidConfiguration, c.Epsilon)
	case c.MaxLevels < 1:
		return fmt.Errorf("%w: max levels must be >= 1, got %d", risk.ErrInvalidConfiguration, c.MaxLevels)
	}
	if _, err := ParseCycleSidePolicy(string(c.SidePolicy)); err != nil {
		return err
	}
	return nil
}

// HedgeController decides, for each tick, what the engine should do with the
// ladder. It never talks to the exchange: Evaluate returns an Action and the
// caller reports the outcome back through ConfirmOpen / ConfirmClosed.
//
// Opening a leg only happens through ConfirmOpen, so evaluating the same tick
// twice never opens two legs. A close-all moves the controller to Closing as
// soon as it is emitted.
type HedgeController struct {
	cfg          ControllerConfig
	state        State
	cycleSide    Side
	pendingClose *CloseAllAction
}

func NewHedgeController(cfg ControllerConfig) (*HedgeController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SidePolicy == "" {
		cfg.SidePolicy = PolicyRepeat
	}
	return &HedgeController{
		cfg:       cfg,
		state:     StateIdle,
		cycleSide: cfg.InitialSide,
	}, nil
}

func (c *HedgeController) State() State { return c.state }

// CycleSide is the side level 0 opens on in the current or next cycle.
func (c *HedgeController) CycleSide() Side { return c.cycleSide }

func (c *HedgeController) Config() ControllerConfig { return c.cfg }

// Evaluate returns the single action for tick. A GridExhausted condition
// returns the forced CloseAllAction together with an error wrapping
// risk.ErrGridExhausted.
func (c *HedgeController) Evaluate(l *Ladder, sizing SizingResult, tick PriceTick) (Action, error) {
	if !tick.Price.IsPositive() {
		return &NoOpAction{}, fmt.Errorf("%w: price %s", ErrInvalidTick, tick.Price)
	}
	if tick.Symbol != "" && !strings.EqualFold(tick.Symbol, c.cfg.Symbol) {
		return &NoOpAction{}, fmt.Errorf("%w: symbol %s, expected %s", ErrInvalidTick, tick.Symbol, c.cfg.Symbol)
	}

	switch c.state {
	case StateClosing:
		// close-all still unconfirmed, dispatch it again
		again := *c.pendingClose
		again.TriggerPrice = tick.Price
		again.OpenLegs = l.Len()
		return &again, nil

	case StateIdle:
		if !l.IsEmpty() {
			return &NoOpAction{}, fmt.Errorf("%w: ladder holds %d legs while idle", ErrInvalidTransition, l.Len())
		}
		qty, ok := sizing.QuantityAt(0)
		if !ok {
			return &NoOpAction{}, fmt.Errorf("%w: no sizing for level 0", risk.ErrInvalidConfiguration)
		}
		return &OpenLegAction{
			Symbol:       c.cfg.Symbol,
			Side:         c.cycleSide,
			LevelIndex:   0,
			Quantity:     qty,
			TriggerPrice: tick.Price,
		}, nil
	}

	// Directional or Hedged. Take-profit wins ties with a hedge trigger.
	if c.takeProfitReached(l, tick.Price) {
		return c.closeAction(ReasonTakeProfit, l, tick.Price), nil
	}

	last, ok := l.LastLeg()
	if !ok {
		return &NoOpAction{}, fmt.Errorf("%w: %s with an empty ladder", ErrInvalidTransition, c.state)
	}
	if !c.crossed(adverseMove(last, tick.Price), c.cfg.EntryDistance) {
		return &NoOpAction{}, nil
	}

	side := last.Side.Opposite()
	next := l.NextLevelIndex(side)
	qty, sized := sizing.QuantityAt(next)
	if next >= c.cfg.MaxLevels || !sized {
		return c.closeAction(ReasonGridExhausted, l, tick.Price),
			fmt.Errorf("%w: level %d requested, max levels %d", risk.ErrGridExhausted, next, c.cfg.MaxLevels)
	}
	return &OpenLegAction{
		Symbol:       c.cfg.Symbol,
		Side:         side,
		LevelIndex:   next,
		Quantity:     qty,
		TriggerPrice: tick.Price,
	}, nil
}

// ConfirmOpen records a filled leg and advances Idle -> Directional -> Hedged.
func (c *HedgeController) ConfirmOpen(l *Ladder, leg PositionLeg) error {
	if c.state == StateClosing {
		return fmt.Errorf("%w: open confirmed while closing", ErrInvalidTransition)
	}
	if err := l.AddLeg(leg); err != nil {
		return err
	}
	if l.IsHedged() {
		c.state = StateHedged
	} else {
		c.state = StateDirectional
	}
	return nil
}

// BeginClose moves to Closing and returns the close-all to dispatch. Calling
// it while already closing keeps the first reason.
func (c *HedgeController) BeginClose(reason CloseReason, l *Ladder, price decimal.Decimal) *CloseAllAction {
	return c.closeAction(reason, l, price)
}

// ConfirmClosed resets the ladder once every leg is flat, returns to Idle and
// selects the side of the next cycle.
func (c *HedgeController) ConfirmClosed(l *Ladder) Side {
	lastSide := c.cycleSide
	if last, ok := l.LastLeg(); ok {
		lastSide = last.Side
	}
	l.Reset()
	c.state = StateIdle
	c.pendingClose = nil

	switch c.cfg.SidePolicy {
	case PolicyAlternate:
		c.cycleSide = c.cycleSide.Opposite()
	case PolicyFollowLast:
		c.cycleSide = lastSide
	default:
		c.cycleSide = c.cfg.InitialSide
	}
	return c.cycleSide
}

// NextHedgePrice is the price at which the next opposite leg triggers.
func (c *HedgeController) NextHedgePrice(l *Ladder) (decimal.Decimal, bool) {
	last, ok := l.LastLeg()
	if !ok {
		return decimal.Zero, false
	}
	dist := c.cfg.EntryDistance.Add(c.cfg.Epsilon)
	return last.EntryPrice.Mul(decimal.NewFromInt(1).Sub(dist.Mul(last.Side.Sign()))), true
}

// TakeProfitPrice is the cycle start price moved by the take-profit fraction
// in the initial side's favour.
func (c *HedgeController) TakeProfitPrice(l *Ladder) (decimal.Decimal, bool) {
	if l.IsEmpty() {
		return decimal.Zero, false
	}
	dist := c.cfg.TakeProfit.Add(c.cfg.Epsilon)
	return l.CycleStartPrice.Mul(decimal.NewFromInt(1).Add(dist.Mul(l.InitialSide.Sign()))), true
}

func (c *HedgeController) closeAction(reason CloseReason, l *Ladder, price decimal.Decimal) *CloseAllAction {
	if c.state != StateClosing || c.pendingClose == nil {
		c.pendingClose = &CloseAllAction{Symbol: c.cfg.Symbol, Reason: reason}
	}
	c.state = StateClosing
	act := *c.pendingClose
	act.TriggerPrice = price
	act.OpenLegs = l.Len()
	return &act
}

func (c *HedgeController) takeProfitReached(l *Ladder, price decimal.Decimal) bool {
	if l.IsEmpty() || !l.CycleStartPrice.IsPositive() {
		return false
	}
	favorable := price.Sub(l.CycleStartPrice).Div(l.CycleStartPrice).Mul(l.InitialSide.Sign())
	if c.crossed(favorable, c.cfg.TakeProfit) {
		return true
	}
	ref := l.ReferenceNotional()
	if !ref.IsPositive() {
		return false
	}
	return c.crossed(l.UnrealizedPnL(price).Div(ref), c.cfg.TakeProfit)
}

func (c *HedgeController) crossed(move, threshold decimal.Decimal) bool {
	return move.GreaterThanOrEqual(threshold.Add(c.cfg.Epsilon))
}

// adverseMove is the fraction price has moved against leg since its entry.
func adverseMove(leg PositionLeg, price decimal.Decimal) decimal.Decimal {
	return leg.EntryPrice.Sub(price).Div(leg.EntryPrice).Mul(leg.Side.Sign())
}
