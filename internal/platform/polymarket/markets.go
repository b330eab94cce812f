package polymarket

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// Up/down market slugs are deterministic, so the current market can be
// derived locally without a search call. The 15m family aligns slots to
// UTC; the 4h and 1h families align to ET, which Polymarket treats as a
// fixed UTC-5 offset for these markets.

var etZone = time.FixedZone("ET", -5*3600)

var monthNames = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// SlotStart returns the start of the slot containing now for the given
// horizon. 15m slots divide the UTC day evenly; 4h slots divide the ET
// day evenly (boundaries at 0, 4, 8, 12, 16, 20 ET).
func SlotStart(h domain.Horizon, now time.Time) time.Time {
	sec := int64(h)
	unix := now.Unix()

	if h == domain.HorizonH4 {
		const etOffset = 5 * 3600
		et := unix - etOffset
		return time.Unix((et/sec)*sec+etOffset, 0).UTC()
	}
	return time.Unix((unix/sec)*sec, 0).UTC()
}

// TimestampSlug builds the slug for a 15m or 4h market from its slot
// start timestamp, e.g. "btc-updown-15m-1736942400".
func TimestampSlug(asset domain.Asset, h domain.Horizon, ts int64) (string, error) {
	switch h {
	case domain.HorizonM15, domain.HorizonH4:
		return fmt.Sprintf("%s-updown-%s-%d", asset, h, ts), nil
	default:
		return "", fmt.Errorf("polymarket: no timestamp slug for %s markets", h)
	}
}

// SlugTimestamp extracts the slot start timestamp encoded in the last
// dash segment of a 15m or 4h slug. ok is false when the slug does not
// end in a number.
func SlugTimestamp(slug string) (ts int64, ok bool) {
	i := strings.LastIndexByte(slug, '-')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(slug[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HourSlug builds the slug for a 1h market resolving at the given hour,
// e.g. "bitcoin-up-or-down-august-23-3pm-et". The hour is interpreted
// in ET.
func HourSlug(asset domain.Asset, resolveAt time.Time) string {
	et := resolveAt.In(etZone)

	var hour string
	switch h := et.Hour(); {
	case h == 0:
		hour = "12am"
	case h < 12:
		hour = fmt.Sprintf("%dam", h)
	case h == 12:
		hour = "12pm"
	default:
		hour = fmt.Sprintf("%dpm", h-12)
	}

	name := "bitcoin"
	if asset == domain.AssetETH {
		name = "ethereum"
	}
	return fmt.Sprintf("%s-up-or-down-%s-%d-%s-et", name, monthNames[et.Month()-1], et.Day(), hour)
}

// CurrentSlug returns the slug of the market whose window contains now.
// 1h markets are named after the hour they resolve at, so the current
// market is the one resolving at the top of the next hour.
func CurrentSlug(asset domain.Asset, h domain.Horizon, now time.Time) (string, error) {
	if h == domain.HorizonH1 {
		resolveAt := now.In(etZone).Truncate(time.Hour).Add(time.Hour)
		return HourSlug(asset, resolveAt), nil
	}
	return TimestampSlug(asset, h, SlotStart(h, now).Unix())
}

// AssetFromSlug recovers the asset family a slug belongs to.
func AssetFromSlug(slug string) domain.Asset {
	s := strings.ToLower(slug)
	if strings.HasPrefix(s, "eth") {
		return domain.AssetETH
	}
	return domain.AssetBTC
}
