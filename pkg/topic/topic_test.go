package topic

import "testing"

func TestFormat(t *testing.T) {
	got := Format("binance", "perp", "btcusdt", "aggTrade")
	want := "binance:perp:btcusdt:aggTrade"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	cases := []struct {
		exchange, market, symbol, streamType string
	}{
		{"binance", "perp", "btcusdt", "aggTrade"},
		{"kraken", "spot", "BTC/USD", "trade"},
		{"binance", "coin-m", "ethusd_perp", "trade"},
	}

	for _, c := range cases {
		topic := Format(c.exchange, c.market, c.symbol, c.streamType)

		gotExchange, gotMarket, gotSymbol, gotStreamType, err := Parse(topic)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", topic, err)
		}

		if gotExchange != c.exchange || gotMarket != c.market || gotSymbol != c.symbol || gotStreamType != c.streamType {
			t.Errorf("Parse(Format(%+v)) = (%q,%q,%q,%q), want original", c, gotExchange, gotMarket, gotSymbol, gotStreamType)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Run("too_few_components", func(t *testing.T) {
		_, _, _, _, err := Parse("binance:perp:btcusdt")
		if err == nil {
			t.Fatal("expected error for malformed topic, got nil")
		}
	})

	t.Run("empty_component", func(t *testing.T) {
		_, _, _, _, err := Parse("binance::btcusdt:trade")
		if err == nil {
			t.Fatal("expected error for empty component, got nil")
		}
	})
}

func TestControl(t *testing.T) {
	got := Control("binance")
	want := "binance:control"
	if got != want {
		t.Errorf("Control() = %q, want %q", got, want)
	}
}
