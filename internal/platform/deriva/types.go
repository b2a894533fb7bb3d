// Package deriva implements the WebSocket transport and message parsing for
// the Deriva v5 public market-data feed.
package deriva

import "encoding/json"

// Outbound commands and heartbeats share one envelope:
//
//	{"op":"subscribe","args":["orderbook.50.BTCUSDT"]}
//	{"op":"ping"}
//
// Inbound frames are either command acknowledgements:
//
//	{"op":"subscribe","success":true,"req_id":"...","ret_msg":""}
//	{"op":"pong","success":true}
//
// or topic pushes:
//
//	{"topic":"orderbook.50.BTCUSDT","type":"snapshot"|"delta","ts":...,"data":{...}}
//	{"topic":"publicTrade.BTCUSDT","ts":...,"data":[{...}]}
//	{"topic":"kline.1m.BTCUSDT","ts":...,"data":[{...}]}

// Command is an outbound operation frame.
type Command struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// envelope is the inbound frame shell, decoded first to route the payload.
type envelope struct {
	Op      string          `json:"op,omitempty"`
	Success *bool           `json:"success,omitempty"`
	RetMsg  string          `json:"ret_msg,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Type    string          `json:"type,omitempty"`
	TS      int64           `json:"ts,omitempty"` // milliseconds
	Data    json.RawMessage `json:"data,omitempty"`
}

// orderbookData is the payload of orderbook.* topics. Levels arrive as
// [price, size] string pairs; a size of "0" deletes the level.
type orderbookData struct {
	Symbol   string      `json:"s"`
	Bids     [][2]string `json:"b"`
	Asks     [][2]string `json:"a"`
	UpdateID int64       `json:"u"`
}

// tradeData is one execution in a publicTrade.* push.
type tradeData struct {
	Symbol    string `json:"s"`
	TradeTS   int64  `json:"T"` // milliseconds
	Price     string `json:"p"`
	Size      string `json:"v"`
	TakerSide string `json:"S"` // "Buy" or "Sell"
}

// klineData is one bar in a kline.* push.
type klineData struct {
	Start    int64  `json:"start"` // bucket open, milliseconds
	Interval string `json:"interval"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
}
