package domain

// FeedMessageType tags the discriminated union produced by the transport
// parser. The ingestion core depends only on this shape, never on the wire
// format behind it.
type FeedMessageType string

const (
	MsgSubscriptionAck FeedMessageType = "subscription-ack"
	MsgHeartbeat       FeedMessageType = "heartbeat-in"
	MsgHeartbeatAck    FeedMessageType = "heartbeat-ack"
	MsgCandle          FeedMessageType = "candle"
	MsgOrderBook       FeedMessageType = "orderbook"
	MsgTradeTicks      FeedMessageType = "trade-ticks"
	MsgUnhandled       FeedMessageType = "unhandled"
)

// SubscriptionAck confirms (or rejects) a subscription request.
type SubscriptionAck struct {
	Success bool
	Request string
	Message string
}

// FeedMessage is one parsed message from the feed. Exactly the field matching
// Type is populated.
type FeedMessage struct {
	Type   FeedMessageType
	Ack    *SubscriptionAck
	Book   *BookUpdate
	Candle *Candle
	Ticks  []TradeTick
	Topic  string // original stream topic, when the feed provides one
}
