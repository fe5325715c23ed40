package collection

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestValidOHLCAcceptsOrdinaryBar(t *testing.T) {
	assert.True(t, validOHLC(dec("100"), dec("105"), dec("98"), dec("102")))
}

func TestValidOHLCRejectsNegativePrice(t *testing.T) {
	assert.False(t, validOHLC(dec("-1"), dec("105"), dec("98"), dec("102")))
}

func TestValidOHLCRejectsLowAboveOpenClose(t *testing.T) {
	assert.False(t, validOHLC(dec("100"), dec("105"), dec("101"), dec("102")))
}

func TestValidOHLCRejectsHighBelowOpenClose(t *testing.T) {
	assert.False(t, validOHLC(dec("100"), dec("99"), dec("95"), dec("102")))
}

func TestValidOHLCRejectsImplausibleRange(t *testing.T) {
	// high/low spread more than 10x the low price — a broker data glitch,
	// not a real trading day.
	assert.False(t, validOHLC(dec("1"), dec("20"), dec("1"), dec("1")))
}

func TestValidOHLCAllowsZeroLow(t *testing.T) {
	assert.True(t, validOHLC(dec("0"), dec("5"), dec("0"), dec("0")))
}

func TestParseVolume(t *testing.T) {
	assert.Equal(t, int64(1234567), parseVolume("1234567"))
	assert.Equal(t, int64(0), parseVolume("garbage"))
	assert.Equal(t, int64(42), parseVolume("42.9"))
}

func TestCountersAddTracksOutcomes(t *testing.T) {
	c := &Counters{}
	c.add(true, false, true, 10)  // success, incremental
	c.add(true, false, false, 20) // success, full
	c.add(false, false, false, 0) // failure
	c.add(true, true, false, 0)   // skipped

	snap := c.Snapshot()
	assert.Equal(t, 4, snap.Processed)
	assert.Equal(t, 3, snap.Success) // a skip also counts as a success
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 1, snap.Incremental)
	assert.Equal(t, 1, snap.Full)
	assert.Equal(t, 30, snap.Records)
}
