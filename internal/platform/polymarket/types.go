package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is an event as returned by the Gamma API. An up/down event
// carries exactly one market.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  bool        `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket is a market as embedded in a Gamma event response. Outcomes,
// OutcomePrices, and ClobTokenIDs arrive as JSON-encoded strings, e.g.
// "[\"Up\",\"Down\"]".
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`
	OutcomePrices string   `json:"outcomePrices"`
	ClobTokenIDs  string   `json:"clobTokenIds"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
}

// parseJSONList decodes a JSON-encoded string list field, returning nil
// on any decode failure.
func parseJSONList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// ToDomainMarket converts the event's first market into a domain.Market,
// pairing the UP and DOWN outcome tokens by case-insensitive outcome
// name. ok is false when the event has no market or the outcomes are
// not an up/down pair.
func (e *APIEvent) ToDomainMarket(h domain.Horizon) (domain.Market, bool) {
	if len(e.Markets) == 0 {
		return domain.Market{}, false
	}
	m := &e.Markets[0]

	outcomes := parseJSONList(m.Outcomes)
	tokenIDs := parseJSONList(m.ClobTokenIDs)

	upIdx, downIdx := -1, -1
	for i, o := range outcomes {
		switch strings.ToLower(o) {
		case "up":
			upIdx = i
		case "down":
			downIdx = i
		}
	}
	if upIdx < 0 || downIdx < 0 || upIdx >= len(tokenIDs) || downIdx >= len(tokenIDs) {
		return domain.Market{}, false
	}

	dm := domain.Market{
		Slug:        e.Slug,
		Question:    m.Question,
		ConditionID: m.ConditionID,
		UpTokenID:   tokenIDs[upIdx],
		DownTokenID: tokenIDs[downIdx],
		Active:      bool(e.Active),
		Closed:      e.Closed,
	}

	if t, err := time.Parse(time.RFC3339, m.StartDate); err == nil {
		dm.StartAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		dm.EndAt = t
	}

	// Timestamp slugs encode the slot exactly; prefer them over the
	// API dates, which are sometimes missing on fresh markets.
	if ts, ok := SlugTimestamp(e.Slug); ok {
		dm.StartAt = time.Unix(ts, 0).UTC()
		dm.EndAt = time.Unix(ts+int64(h), 0).UTC()
	}

	return dm, true
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrder is an order as returned by the CLOB API.
type APIOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	CreatedAt    string `json:"created_at"`
}

// ToDomainOrder converts an APIOrder to a domain.Order.
func (a *APIOrder) ToDomainOrder() domain.Order {
	o := domain.Order{
		ID:      a.ID,
		TokenID: a.AssetID,
		Side:    domain.OrderSide(strings.ToUpper(a.Side)),
		Status:  parseOrderStatus(a.Status),
	}
	o.Price, _ = strconv.ParseFloat(a.Price, 64)
	o.Size, _ = strconv.ParseFloat(a.OriginalSize, 64)
	o.SizeMatched, _ = strconv.ParseFloat(a.SizeMatched, 64)

	if ts, err := strconv.ParseInt(a.CreatedAt, 10, 64); err == nil {
		o.CreatedAt = time.Unix(ts, 0).UTC()
	} else if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		o.CreatedAt = t
	}
	return o
}

// APIOrderResult is the response from placing an order.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success:     r.Success,
		OrderID:     r.OrderID,
		Status:      parseOrderStatus(r.Status),
		Message:     r.ErrorMsg,
		ShouldRetry: r.ShouldRetry,
	}
}

// APITrade is one trade as returned by the CLOB trades endpoint.
type APITrade struct {
	ID           string `json:"id"`
	TakerOrderID string `json:"taker_order_id"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Status       string `json:"status"`
}

// ToDomainTrade converts an APITrade to a domain.Trade.
func (t *APITrade) ToDomainTrade() domain.Trade {
	dt := domain.Trade{
		ID:      t.ID,
		OrderID: t.TakerOrderID,
		TokenID: t.AssetID,
		Side:    domain.OrderSide(strings.ToUpper(t.Side)),
		Status:  domain.TradeStatus(strings.ToUpper(t.Status)),
	}
	dt.Price, _ = strconv.ParseFloat(t.Price, 64)
	dt.Size, _ = strconv.ParseFloat(t.Size, 64)
	return dt
}

func parseOrderStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "LIVE", "OPEN":
		return domain.OrderStatusLive
	case "MATCHED", "FILLED":
		return domain.OrderStatusMatched
	case "CANCELLED", "CANCELED":
		return domain.OrderStatusCancelled
	case "DELAYED":
		return domain.OrderStatusDelayed
	default:
		return domain.OrderStatusUnmatched
	}
}
