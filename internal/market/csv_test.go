package market

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	t.Run("millisecond timestamps and sorting", func(t *testing.T) {
		body := "time,open,high,low,close,volume\n" +
			"1700000060000,2,3,1,2.5,10\n" +
			"1700000000000,1,2,0.5,1.5,20\n"
		bars, err := ReadCSV(strings.NewReader(body))
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), bars[0].Time)
		assert.Equal(t, 1.5, bars[0].Close)
		assert.Equal(t, 10.0, bars[1].Volume)
		assert.NoError(t, bars.Validate())
	})

	t.Run("seconds and text layouts", func(t *testing.T) {
		body := "Date,Open,High,Low,Close\n" +
			"2024-01-01 00:00:00,1,1,1,1\n" +
			"1704070800,2,2,2,2\n"
		bars, err := ReadCSV(strings.NewReader(body))
		require.NoError(t, err)
		require.Len(t, bars, 2)
		assert.Equal(t, 2024, bars[0].Time.Year())
		assert.Zero(t, bars[0].Volume)
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("time,open,close\n1,1,1\n"))
		require.Error(t, err)
		var ide *InputDataError
		require.ErrorAs(t, err, &ide)
		assert.Equal(t, []string{"high", "low"}, ide.Missing)
	})

	t.Run("unparseable timestamps", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("time,open,high,low,close\nabc,1,1,1,1\n"))
		assert.True(t, IsInputDataError(err))
	})

	t.Run("invalid rows are dropped", func(t *testing.T) {
		body := "time,open,high,low,close\n1700000000000,1,1,1,1\nnope,1,1,1,1\n1700000060000,x,1,1,1\n"
		bars, err := ReadCSV(strings.NewReader(body))
		require.NoError(t, err)
		assert.Len(t, bars, 1)
	})
}

func TestRequireBars(t *testing.T) {
	err := RequireBars(make(Series, 10), 500)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient bars: 10, need at least 500")
	assert.NoError(t, RequireBars(make(Series, 500), 500))
}

func TestNormalizeDropsDuplicates(t *testing.T) {
	ts := time.Unix(100, 0)
	s := Normalize(Series{
		{Time: ts, Close: 1},
		{Time: ts.Add(time.Minute), Close: 2},
		{Time: ts, Close: 3},
	})
	require.Len(t, s, 2)
	assert.Equal(t, 3.0, s[0].Close)
}
