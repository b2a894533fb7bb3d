package deriva

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantfeed/wallwatch/internal/domain"
)

// Parser decodes raw Deriva feed frames into domain messages. It is
// stateless and safe for concurrent use.
type Parser struct{}

// NewParser returns a feed parser.
func NewParser() *Parser {
	return &Parser{}
}

// Topics builds the stream topic list for the given symbols and candle
// timeframes at the given book depth.
func Topics(symbols, timeframes []string, depth int) []string {
	topics := make([]string, 0, len(symbols)*(2+len(timeframes)))
	for _, sym := range symbols {
		topics = append(topics,
			fmt.Sprintf("orderbook.%d.%s", depth, sym),
			fmt.Sprintf("publicTrade.%s", sym),
		)
		for _, tf := range timeframes {
			topics = append(topics, fmt.Sprintf("kline.%s.%s", tf, sym))
		}
	}
	return topics
}

// Parse decodes one inbound frame.
func (p *Parser) Parse(raw []byte) (*domain.FeedMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("deriva: decode frame: %w", err)
	}

	if env.Op != "" {
		return p.parseOp(&env)
	}
	if env.Topic != "" {
		return p.parseTopic(&env)
	}
	return &domain.FeedMessage{Type: domain.MsgUnhandled}, nil
}

func (p *Parser) parseOp(env *envelope) (*domain.FeedMessage, error) {
	switch env.Op {
	case "ping":
		return &domain.FeedMessage{Type: domain.MsgHeartbeat}, nil
	case "pong":
		return &domain.FeedMessage{Type: domain.MsgHeartbeatAck}, nil
	case "subscribe", "unsubscribe":
		ack := &domain.SubscriptionAck{
			Success: env.Success != nil && *env.Success,
			Request: env.Op,
			Message: env.RetMsg,
		}
		return &domain.FeedMessage{Type: domain.MsgSubscriptionAck, Ack: ack}, nil
	default:
		return &domain.FeedMessage{Type: domain.MsgUnhandled}, nil
	}
}

func (p *Parser) parseTopic(env *envelope) (*domain.FeedMessage, error) {
	ts := time.UnixMilli(env.TS)

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		return p.parseOrderbook(env, ts)
	case strings.HasPrefix(env.Topic, "publicTrade."):
		return p.parseTrades(env, ts)
	case strings.HasPrefix(env.Topic, "kline."):
		return p.parseKline(env, ts)
	default:
		return &domain.FeedMessage{Type: domain.MsgUnhandled, Topic: env.Topic}, nil
	}
}

func (p *Parser) parseOrderbook(env *envelope, ts time.Time) (*domain.FeedMessage, error) {
	var data orderbookData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("deriva: decode orderbook %s: %w", env.Topic, err)
	}

	kind := domain.UpdateDelta
	if env.Type == "snapshot" {
		kind = domain.UpdateSnapshot
	}

	bids, err := parseLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("deriva: orderbook %s bids: %w", env.Topic, err)
	}
	asks, err := parseLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("deriva: orderbook %s asks: %w", env.Topic, err)
	}

	book := &domain.BookUpdate{
		Kind:      kind,
		Symbol:    data.Symbol,
		Bids:      bids,
		Asks:      asks,
		UpdateID:  data.UpdateID,
		Timestamp: ts,
	}
	return &domain.FeedMessage{Type: domain.MsgOrderBook, Book: book, Topic: env.Topic}, nil
}

func (p *Parser) parseTrades(env *envelope, _ time.Time) (*domain.FeedMessage, error) {
	var data []tradeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("deriva: decode trades %s: %w", env.Topic, err)
	}

	ticks := make([]domain.TradeTick, 0, len(data))
	for _, td := range data {
		price, err := strconv.ParseFloat(td.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("deriva: trade price %q: %w", td.Price, err)
		}
		size, err := strconv.ParseFloat(td.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("deriva: trade size %q: %w", td.Size, err)
		}
		side := domain.SideAsk
		if td.TakerSide == "Buy" {
			side = domain.SideBid
		}
		ticks = append(ticks, domain.TradeTick{
			Symbol:   td.Symbol,
			TradedAt: time.UnixMilli(td.TradeTS),
			Price:    price,
			Size:     size,
			Side:     side,
		})
	}
	return &domain.FeedMessage{Type: domain.MsgTradeTicks, Ticks: ticks, Topic: env.Topic}, nil
}

func (p *Parser) parseKline(env *envelope, _ time.Time) (*domain.FeedMessage, error) {
	// Topic form: kline.<timeframe>.<symbol>
	parts := strings.SplitN(env.Topic, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("deriva: malformed kline topic %q", env.Topic)
	}
	symbol := parts[2]

	var data []klineData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("deriva: decode kline %s: %w", env.Topic, err)
	}
	if len(data) == 0 {
		return &domain.FeedMessage{Type: domain.MsgUnhandled, Topic: env.Topic}, nil
	}
	// The feed pushes the bar being built; only the last element matters.
	kd := data[len(data)-1]

	candle := &domain.Candle{
		Symbol:    symbol,
		Timeframe: kd.Interval,
		BucketTS:  time.UnixMilli(kd.Start),
	}
	var err error
	if candle.Open, err = strconv.ParseFloat(kd.Open, 64); err != nil {
		return nil, fmt.Errorf("deriva: kline open %q: %w", kd.Open, err)
	}
	if candle.High, err = strconv.ParseFloat(kd.High, 64); err != nil {
		return nil, fmt.Errorf("deriva: kline high %q: %w", kd.High, err)
	}
	if candle.Low, err = strconv.ParseFloat(kd.Low, 64); err != nil {
		return nil, fmt.Errorf("deriva: kline low %q: %w", kd.Low, err)
	}
	if candle.Close, err = strconv.ParseFloat(kd.Close, 64); err != nil {
		return nil, fmt.Errorf("deriva: kline close %q: %w", kd.Close, err)
	}
	if candle.Volume, err = strconv.ParseFloat(kd.Volume, 64); err != nil {
		return nil, fmt.Errorf("deriva: kline volume %q: %w", kd.Volume, err)
	}
	return &domain.FeedMessage{Type: domain.MsgCandle, Candle: candle, Topic: env.Topic}, nil
}

func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		size, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", pair[1], err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}
