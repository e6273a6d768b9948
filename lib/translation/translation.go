package translation

import (
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Configure loads the message catalog for lang from dir.
func Configure(dir, lang string) {
	gotext.Configure(dir, strings.ToLower(lang), "default")
}

func GetLanguage() string {
	lang := gotext.GetLanguage()

	if lang == "und" || lang == "" {
		return "en"
	}

	return lang
}

// Translate falls back to msgID formatted with vars when no translation exists.
func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
