package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSource(t *testing.T) {
	dir := t.TempDir()
	body := "time,open,high,low,close,volume\n" +
		"1700000000000,1,2,0.5,1.5,1\n" +
		"1700003600000,2,3,1,2.5,1\n" +
		"1700007200000,3,4,2,3.5,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_1h.csv"), []byte(body), 0o644))

	src, err := NewCSVSource(dir)
	require.NoError(t, err)
	assert.Equal(t, "csv", src.Name())

	bars, err := src.Fetch(context.Background(), FetchRequest{Symbol: "btcusdt", Interval: "1h", Start: 1700003600000})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2.5, bars[0].Close)

	bars, err = src.Fetch(context.Background(), FetchRequest{Symbol: "BTCUSDT", Interval: "1h", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	_, err = src.Fetch(context.Background(), FetchRequest{Symbol: "ETHUSDT", Interval: "1h"})
	assert.True(t, IsInputDataError(err))

	_, err = NewCSVSource(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
