package fx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{"USDIDR": decimal.RequireFromString("15000")}
	ctx := context.Background()
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	rate, err := p.Rate(ctx, "usd", "IDR", day)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("15000")))

	rate, err = p.Rate(ctx, "IDR", "IDR", day)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))

	inverse, err := p.Rate(ctx, "IDR", "USD", day)
	require.NoError(t, err)
	require.Equal(t, "150.00", Convert(decimal.RequireFromString("2250000"), inverse).StringFixed(2))

	_, err = p.Rate(ctx, "EUR", "IDR", day)
	var missing *MissingRateError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "EUR", missing.From)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestConvertRoundsHalfAwayFromZero(t *testing.T) {
	rate := decimal.RequireFromString("1.5")
	require.Equal(t, "1.58", Convert(decimal.RequireFromString("1.05"), rate).StringFixed(2))
	require.Equal(t, "-1.58", Convert(decimal.RequireFromString("-1.05"), rate).StringFixed(2))
}
