package events

// Event enumerates high-level topics inside the trading bot.
type Event string

const (
	EventPriceTick      Event = "price_tick"      // market.Tick
	EventOrderSubmitted Event = "order.submitted" // order.Result
	EventOrderRejected  Event = "order.rejected"  // order.Result
	EventOrderFilled    Event = "order.filled"    // order.Result with contract price
	EventPositionOpened Event = "position.opened" // state.Position
	EventPositionClosed Event = "position.closed" // state.Position
	EventTradeRecorded  Event = "trade.recorded"  // history.Record
	EventRiskAlert      Event = "risk_alert"      // string
	EventSuddenChange   Event = "market.sudden"   // monitor.SurgeAlert
	EventStreamState    Event = "stream.state"    // market.StreamState
)
