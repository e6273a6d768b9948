package helpers

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// FormatPriceUS picks the precision from the magnitude: whole dollars above 1000, 8 decimals for dust.
func FormatPriceUS(price float64, escapeMarkdown bool) string {
	decimals := 6

	if price >= 1000 {
		decimals = 0
	} else if price > 1.2 {
		decimals = 2
	} else if price < 0.00001 {
		decimals = 8
	}

	p := message.NewPrinter(language.English)
	formatted := p.Sprintf("%.*f", decimals, price)

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

// FormatMarketCap renders large values with an SI suffix, e.g. 1.95 T.
func FormatMarketCap(value float64) string {
	return humanize.SIWithDigits(value, 2, "")
}

func FormatPercentage(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return sign + humanize.FormatFloat("#,###.##", value) + "%"
}

func FormatUSD(value float64) string {
	return fmt.Sprintf("$%s", humanize.CommafWithDigits(value, 2))
}
