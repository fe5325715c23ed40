package analysis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeReturnPercent(t *testing.T) {
	current := decimal.NullDecimal{Decimal: decimal.NewFromInt(110), Valid: true}
	signalPrice := decimal.NewFromInt(100)

	pct := computeReturnPercent(current, signalPrice)
	require := assert.New(t)
	require.True(pct.Valid)
	require.True(pct.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestComputeReturnPercentInvalidWhenCurrentMissing(t *testing.T) {
	pct := computeReturnPercent(decimal.NullDecimal{}, decimal.NewFromInt(100))
	assert.False(t, pct.Valid)
}

func TestComputeReturnPercentInvalidWhenSignalPriceZero(t *testing.T) {
	current := decimal.NullDecimal{Decimal: decimal.NewFromInt(50), Valid: true}
	pct := computeReturnPercent(current, decimal.Zero)
	assert.False(t, pct.Valid)
}

func TestDecodeDetailsRoundTrips(t *testing.T) {
	out := decodeDetails([]byte(`{"slope": -0.5, "breakout_confirmed": true}`))
	assert.Equal(t, -0.5, out["slope"])
	assert.Equal(t, true, out["breakout_confirmed"])
}

func TestDecodeDetailsEmptyOnMalformedOrEmptyInput(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeDetails(nil))
	assert.Equal(t, map[string]any{}, decodeDetails([]byte("not json")))
}
