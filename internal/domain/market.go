package domain

import "time"

// Asset identifies the underlying crypto asset of an up/down market.
type Asset string

const (
	AssetBTC Asset = "btc"
	AssetETH Asset = "eth"
)

// Horizon is the resolution window of an up/down market, in seconds.
type Horizon int

const (
	HorizonM15 Horizon = 900
	HorizonH1  Horizon = 3600
	HorizonH4  Horizon = 14400
)

// String returns the short form used in slugs and config files.
func (h Horizon) String() string {
	switch h {
	case HorizonM15:
		return "15m"
	case HorizonH1:
		return "1h"
	case HorizonH4:
		return "4h"
	default:
		return "unknown"
	}
}

// Duration returns the horizon as a time.Duration.
func (h Horizon) Duration() time.Duration {
	return time.Duration(h) * time.Second
}

// Market is one binary up/down prediction market. Exactly two outcome
// tokens belong to a market: the UP token and the DOWN token.
type Market struct {
	Slug        string // e.g. "btc-updown-15m-1736942400"; encodes resolution time
	Question    string
	ConditionID string
	UpTokenID   string
	DownTokenID string
	StartAt     time.Time
	EndAt       time.Time
	Active      bool
	Closed      bool
}
