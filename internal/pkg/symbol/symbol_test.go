package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"btcusdt":       "BTCUSDT",
		" BTC/USDT ":    "BTCUSDT",
		"eth/usdt:usdt": "ETHUSDT",
		"solbtc":        "SOLBTC",
		"xyz":           "XYZ",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
	assert.Equal(t, "ETH/USDC", Parse("ethusdc").Pair())
	assert.Empty(t, Parse("usdt").Pair())
}
