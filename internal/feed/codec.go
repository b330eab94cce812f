package feed

import (
	"encoding/json"
	"strconv"
)

// UpdateKind discriminates the closed set of message shapes the market
// stream can deliver. The codec decides the kind exactly once; downstream
// code switches on it and never re-inspects field presence.
type UpdateKind int

const (
	KindBook UpdateKind = iota
	KindPriceChange
	KindTrade
)

// RawUpdate is one decoded stream record for a single outcome token.
// Exactly one of Book, Change, Trade is non-nil, matching Kind.
type RawUpdate struct {
	TokenID string
	Kind    UpdateKind
	Book    *BookPayload
	Change  *ChangePayload
	Trade   *TradePayload
}

// PriceLevel is one price+size entry in a book snapshot.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookPayload is a full book snapshot for one token. Bids arrive ordered
// ascending by price and asks descending; the best level of each is the
// last element. This is a property of the wire format.
type BookPayload struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	LastTrade *float64
}

// BestBid returns the highest bid, or nil when the bid side is empty.
func (b *BookPayload) BestBid() *float64 {
	if len(b.Bids) == 0 {
		return nil
	}
	p := b.Bids[len(b.Bids)-1].Price
	return &p
}

// BestAsk returns the lowest ask, or nil when the ask side is empty.
func (b *BookPayload) BestAsk() *float64 {
	if len(b.Asks) == 0 {
		return nil
	}
	p := b.Asks[len(b.Asks)-1].Price
	return &p
}

// ChangePayload is an incremental best-price update. Nil fields mean
// "unchanged", never "unknown".
type ChangePayload struct {
	BestBid *float64
	BestAsk *float64
	Price   *float64
	Size    *float64
	Side    string
}

// TradePayload is a last-trade-price record.
type TradePayload struct {
	Price float64
	Size  float64
	Side  string
}

// wire shapes ---------------------------------------------------------------

type wireLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

type wireMessage struct {
	EventType      string      `json:"event_type"`
	AssetID        string      `json:"asset_id"`
	Bids           []wireLevel `json:"bids"`
	Asks           []wireLevel `json:"asks"`
	LastTradePrice string      `json:"last_trade_price"`
	Price          string      `json:"price"`
	Size           string      `json:"size"`
	Side           string      `json:"side"`
	PriceChanges   []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
		Price   string `json:"price"`
		Size    string `json:"size"`
		Side    string `json:"side"`
	} `json:"price_changes"`
}

// decodeFrame parses one raw stream frame into zero or more RawUpdates.
// A frame is either a single object or a list of objects (the initial
// book burst after subscribing). Unparseable frames and unknown event
// types yield no updates; the connection is unaffected.
func decodeFrame(data []byte) []RawUpdate {
	trimmed := firstNonSpace(data)
	if trimmed == '[' {
		var msgs []json.RawMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil
		}
		var out []RawUpdate
		for _, m := range msgs {
			out = append(out, decodeMessage(m)...)
		}
		return out
	}
	return decodeMessage(data)
}

func decodeMessage(data []byte) []RawUpdate {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}

	switch msg.EventType {
	case "book":
		if msg.AssetID == "" {
			return nil
		}
		book := &BookPayload{
			Bids:      toLevels(msg.Bids),
			Asks:      toLevels(msg.Asks),
			LastTrade: parsePrice(msg.LastTradePrice),
		}
		return []RawUpdate{{TokenID: msg.AssetID, Kind: KindBook, Book: book}}

	case "price_change":
		var out []RawUpdate
		for _, ch := range msg.PriceChanges {
			if ch.AssetID == "" {
				continue
			}
			out = append(out, RawUpdate{
				TokenID: ch.AssetID,
				Kind:    KindPriceChange,
				Change: &ChangePayload{
					BestBid: parsePrice(ch.BestBid),
					BestAsk: parsePrice(ch.BestAsk),
					Price:   parsePrice(ch.Price),
					Size:    parsePrice(ch.Size),
					Side:    ch.Side,
				},
			})
		}
		return out

	case "last_trade_price":
		if msg.AssetID == "" {
			return nil
		}
		price := parsePrice(msg.Price)
		if price == nil {
			return nil
		}
		trade := &TradePayload{Price: *price, Side: msg.Side}
		if s := parsePrice(msg.Size); s != nil {
			trade.Size = *s
		}
		return []RawUpdate{{TokenID: msg.AssetID, Kind: KindTrade, Trade: trade}}

	default:
		return nil
	}
}

func toLevels(levels []wireLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := l.Price.Float64()
		if err != nil {
			continue
		}
		size, _ := l.Size.Float64()
		out = append(out, PriceLevel{Price: price, Size: size})
	}
	return out
}

// parsePrice converts a wire string to *float64. Empty strings and "0"
// sentinels used by the upstream for "no value" map to nil.
func parsePrice(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == 0 {
		return nil
	}
	return &v
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return b
		}
	}
	return 0
}
