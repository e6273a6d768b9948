package helpers

import "testing"

func TestFormatPriceUS(t *testing.T) {
	cases := map[float64]string{
		100000:    "100,000",
		4012.7:    "4,013",
		2.5:       "2.50",
		0.5:       "0.500000",
		0.0000012: "0.00000120",
	}
	for in, want := range cases {
		if got := FormatPriceUS(in, false); got != want {
			t.Errorf("FormatPriceUS(%v) = %q, want %q", in, got, want)
		}
	}
	if got := FormatPriceUS(2.5, true); got != "2\\.50" {
		t.Errorf("expected escaped dot, got %q", got)
	}
}

func TestFormatMarketCap(t *testing.T) {
	if got := FormatMarketCap(1.95e12); got != "1.95 T" {
		t.Errorf("unexpected market cap %q", got)
	}
	if got := FormatMarketCap(480e9); got != "480 G" {
		t.Errorf("unexpected market cap %q", got)
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	if got := EscapeMarkdownV2("BTC (above) 1.5!"); got != "BTC \\(above\\) 1\\.5\\!" {
		t.Errorf("unexpected escape %q", got)
	}
}

func TestFormatPercentage(t *testing.T) {
	if got := FormatPercentage(1.5); got != "+1.50%" {
		t.Errorf("unexpected percentage %q", got)
	}
	if got := FormatPercentage(-2.25); got != "-2.25%" {
		t.Errorf("unexpected percentage %q", got)
	}
}

func TestFormatUSD(t *testing.T) {
	if got := FormatUSD(1234.5); got != "$1,234.5" {
		t.Errorf("unexpected usd %q", got)
	}
}
