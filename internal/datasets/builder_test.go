package datasets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab-io/quantlab/internal/ingestion"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// newSourceStore builds a market store seeded with quotes for two stocks
// across three sessions plus matching TOPIX bars.
func newSourceStore(t *testing.T) *storage.MarketStore {
	t.Helper()

	conn, err := storage.OpenReadWrite(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, storage.MigrateMarket(conn, testLogger()))

	store := storage.NewMarketStore(conn, testLogger())
	ctx := context.Background()

	_, err = store.PublishQuotes(ctx, []ingestion.Quote{
		quote("1301", "2024-01-09", 3000),
		quote("1301", "2024-01-10", 3050),
		quote("1301", "2024-01-11", 3100),
		quote("7203", "2024-01-09", 2500),
		quote("7203", "2024-01-10", 2520),
	})
	require.NoError(t, err)

	_, err = store.PublishTopix(ctx, []ingestion.TopixBar{
		{TradeDate: "2024-01-09", Open: 2400, High: 2420, Low: 2390, Close: 2410},
		{TradeDate: "2024-01-10", Open: 2410, High: 2450, Low: 2405, Close: 2445},
		{TradeDate: "2024-01-11", Open: 2445, High: 2470, Low: 2440, Close: 2460},
	})
	require.NoError(t, err)

	return store
}

func TestBuild_SnapshotsAllStocks(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	router := NewRouter(base, testLogger())

	t.Cleanup(func() { _ = router.CloseAll() })

	source := newSourceStore(t)

	var calls int

	result, err := Build(ctx, router, source, BuildSpec{Name: "snapshot"}, testLogger(),
		func(done, total int) {
			calls++

			assert.Equal(t, 2, total)
			assert.LessOrEqual(t, done, total)
		})
	require.NoError(t, err)

	assert.Equal(t, "snapshot", result.Dataset)
	assert.Equal(t, 2, result.Stocks)
	assert.Equal(t, 5, result.Rows)
	assert.Equal(t, 2, calls)

	// The built file reads back through the router.
	store, err := router.Store("snapshot")
	require.NoError(t, err)

	out, err := store.DailyQuotes(ctx, "1301", "", "")
	require.NoError(t, err)
	assert.Len(t, out, 3)

	bars, err := store.Topix(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, bars, 3)

	// The file describes itself.
	meta, err := store.DatasetMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "snapshot", meta.Name)
	assert.Equal(t, 2, meta.Stocks)
	assert.Equal(t, 5, meta.QuoteRows)
	assert.NotEmpty(t, meta.BuiltAt)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(base, "snapshot.db.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestBuild_FiltersCodesAndRange(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	router := NewRouter(base, testLogger())

	t.Cleanup(func() { _ = router.CloseAll() })

	source := newSourceStore(t)

	spec := BuildSpec{
		Name:  "jan_slice",
		Codes: []string{"1301"},
		From:  "2024-01-10",
		To:    "2024-01-11",
	}

	result, err := Build(ctx, router, source, spec, testLogger(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stocks)
	assert.Equal(t, 2, result.Rows)

	store, err := router.Store("jan_slice")
	require.NoError(t, err)

	meta, err := store.DatasetMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "2024-01-10", meta.From)
	assert.Equal(t, "2024-01-11", meta.To)

	quotes, err := store.DailyQuotes(ctx, "1301", "", "")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "2024-01-10", quotes[0].TradeDate)

	_, err = store.DailyQuotes(ctx, "7203", "", "")
	require.NoError(t, err)

	stocks, err := store.StockCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1301"}, stocks, "excluded codes should not be in the snapshot")

	bars, err := store.Topix(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, bars, 2, "topix bars should honor the date range")
}

func TestBuild_InvalidName(t *testing.T) {
	router := NewRouter(t.TempDir(), testLogger())
	source := newSourceStore(t)

	_, err := Build(context.Background(), router, source, BuildSpec{Name: "../evil"}, testLogger(), nil)
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestBuild_CancelledContext(t *testing.T) {
	base := t.TempDir()
	router := NewRouter(base, testLogger())
	source := newSourceStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, router, source, BuildSpec{Name: "never"}, testLogger(), nil)
	require.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(base, "never.db"))
	require.True(t, os.IsNotExist(statErr), "cancelled build should not leave a dataset behind")

	_, statErr = os.Stat(filepath.Join(base, "never.db.tmp"))
	require.True(t, os.IsNotExist(statErr), "cancelled build should clean up its temp file")
}

func TestBuild_ReplacesExistingDataset(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	router := NewRouter(base, testLogger())

	t.Cleanup(func() { _ = router.CloseAll() })

	source := newSourceStore(t)

	_, err := Build(ctx, router, source, BuildSpec{Name: "snap", Codes: []string{"1301"}}, testLogger(), nil)
	require.NoError(t, err)

	// Open a handle against the first build, then rebuild with different
	// contents. The router must serve the new file afterwards.
	store, err := router.Store("snap")
	require.NoError(t, err)

	stocks, err := store.StockCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1301"}, stocks)

	_, err = Build(ctx, router, source, BuildSpec{Name: "snap", Codes: []string{"7203"}, Overwrite: true}, testLogger(), nil)
	require.NoError(t, err)

	rebuilt, err := router.Store("snap")
	require.NoError(t, err)

	stocks, err = rebuilt.StockCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7203"}, stocks)
}

func TestBuild_NameCollisionWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	router := NewRouter(base, testLogger())

	t.Cleanup(func() { _ = router.CloseAll() })

	source := newSourceStore(t)

	_, err := Build(ctx, router, source, BuildSpec{Name: "snap", Codes: []string{"1301"}}, testLogger(), nil)
	require.NoError(t, err)

	_, err = Build(ctx, router, source, BuildSpec{Name: "snap", Codes: []string{"7203"}}, testLogger(), nil)
	require.ErrorIs(t, err, ErrExists)

	// The original contents survive a rejected rebuild.
	store, err := router.Store("snap")
	require.NoError(t, err)

	stocks, err := store.StockCodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1301"}, stocks)
}
