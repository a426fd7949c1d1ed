package okx

import (
	"testing"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDepth(t *testing.T) {
	raw := []byte(`{
		"timestamp": "2025-05-04T10:39:13Z",
		"exchange": "OKX",
		"symbol": "BTC-USDT-SWAP",
		"asks": [["95445.5", "9.06"], ["95446.0", "0.1"], ["95448", "14.65"]],
		"bids": [["95445.4", "1104.23"], ["95445.3", "0.02"]]
	}`)

	got, err := DecodeDepth(raw, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, got.Dropped)

	book := got.Book
	assert.Equal(t, "OKX", book.Exchange)
	assert.Equal(t, "BTC-USDT-SWAP", book.Symbol)
	assert.Equal(t, time.Date(2025, 5, 4, 10, 39, 13, 0, time.UTC), book.Timestamp.UTC())
	assert.Equal(t, []domain.PriceLevel{{Price: 95445.5, Size: 9.06}, {Price: 95446, Size: 0.1}, {Price: 95448, Size: 14.65}}, book.Asks)
	assert.Equal(t, []domain.PriceLevel{{Price: 95445.4, Size: 1104.23}, {Price: 95445.3, Size: 0.02}}, book.Bids)
	require.NoError(t, book.Validate())
}

func TestDecodeDepth_DropsNonNumericEntries(t *testing.T) {
	raw := []byte(`{"asks": [["abc", "1"], ["101", "x"], ["100", 2], [102], "junk", [103, "1.5"]],
		"bids": [[99, 1], ["-1", "1"]]}`)

	got, err := DecodeDepth(raw, time.Unix(5, 0))
	require.NoError(t, err)
	assert.Equal(t, 5, got.Dropped)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Size: 2}, {Price: 103, Size: 1.5}}, got.Book.Asks)
	assert.Equal(t, []domain.PriceLevel{{Price: 99, Size: 1}}, got.Book.Bids)
	assert.Equal(t, time.Unix(5, 0), got.Book.Timestamp)
}

func TestDecodeDepth_SortsAndMerges(t *testing.T) {
	raw := []byte(`{"asks": [["102", "1"], ["101", "0.1"], ["101.0", "0.2"]],
		"bids": [["98", "1"], ["99", "1"]]}`)

	got, err := DecodeDepth(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Size: 0.3}, {Price: 102, Size: 1}}, got.Book.Asks)
	assert.Equal(t, []domain.PriceLevel{{Price: 99, Size: 1}, {Price: 98, Size: 1}}, got.Book.Bids)
}

func TestDecodeDepth_Malformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":         `{"asks":`,
		"asks is object":   `{"asks": {"p": 1}, "bids": []}`,
		"bids is string":   `{"asks": [], "bids": "none"}`,
		"asks is a number": `{"asks": 5}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDepth([]byte(raw), time.Now())
			assert.ErrorIs(t, err, domain.ErrMalformedMessage)
		})
	}
}

func TestDecodeDepth_MissingSidesAreEmpty(t *testing.T) {
	got, err := DecodeDepth([]byte(`{"symbol":"X"}`), time.Now())
	require.NoError(t, err)
	assert.True(t, got.Book.IsEmpty())
}
