package translation

import "testing"

const localesDir = "../../locales"

func TestConfigureFrench(t *testing.T) {
	Configure(localesDir, "FR")
	defer Configure(localesDir, "")

	if got := GetLanguage(); got != "fr" {
		t.Fatalf("expected fr, got %q", got)
	}
	if got := Translate("above"); got != "au-dessus" {
		t.Errorf("expected french condition, got %q", got)
	}
}

func TestDefaultsToEnglish(t *testing.T) {
	Configure(localesDir, "")

	if got := GetLanguage(); got != "en" {
		t.Fatalf("expected en, got %q", got)
	}
	if got := Translate("Threshold (%s)", "below"); got != "Threshold (below)" {
		t.Errorf("expected untranslated message with vars, got %q", got)
	}
}
