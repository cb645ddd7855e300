package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ist(day, hour, min int) time.Time {
	return time.Date(2026, 8, day, hour, min, 0, 0, IST)
}

func TestIsMarketOpenBoundaries(t *testing.T) {
	// 2026-08-24 is a Monday.
	assert.False(t, IsMarketOpen(ist(24, 9, 14)), "one minute before open")
	assert.True(t, IsMarketOpen(ist(24, 9, 15)), "opening minute")
	assert.True(t, IsMarketOpen(ist(24, 12, 0)), "mid session")
	assert.True(t, IsMarketOpen(ist(24, 15, 29)), "last trading minute")
	assert.False(t, IsMarketOpen(ist(24, 15, 30)), "close is exclusive")
}

func TestIsMarketOpenWeekend(t *testing.T) {
	assert.False(t, IsMarketOpen(ist(22, 12, 0)), "Saturday")
	assert.False(t, IsMarketOpen(ist(23, 12, 0)), "Sunday")
}

func TestIsMarketOpenConvertsZones(t *testing.T) {
	// 04:00 UTC on a Monday is 09:30 IST, inside the session.
	utc := time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC)
	assert.True(t, IsMarketOpen(utc))
}

func TestNextOpenSameDay(t *testing.T) {
	got := NextOpen(ist(24, 7, 0))
	assert.True(t, got.Equal(ist(24, 9, 15)), "got %s", got)
}

func TestNextOpenSkipsWeekend(t *testing.T) {
	// Friday after close rolls to Monday.
	got := NextOpen(ist(28, 16, 0))
	assert.True(t, got.Equal(ist(31, 9, 15)), "got %s", got)
}

func TestNextOpenAfterOpenRollsForward(t *testing.T) {
	got := NextOpen(ist(24, 10, 0))
	assert.True(t, got.Equal(ist(25, 9, 15)), "got %s", got)
}

func TestTodayClose(t *testing.T) {
	got := TodayClose(ist(24, 10, 0))
	assert.True(t, got.Equal(ist(24, 15, 30)), "got %s", got)
}

func TestStatusString(t *testing.T) {
	assert.Contains(t, StatusString(ist(24, 10, 0)), "market open")
	assert.Contains(t, StatusString(ist(24, 16, 0)), "market closed")
	assert.Contains(t, StatusString(ist(28, 16, 0)), "Mon")
}
