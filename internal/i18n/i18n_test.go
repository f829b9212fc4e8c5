package i18n

import (
	"testing"
	"testing/fstest"
)

func TestLoad_Embedded(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := c.Locales(); len(got) < 2 || got[0] != "en_US" {
		t.Errorf("Locales() = %v", got)
	}
	if got := c.T("en_US", "menu.help"); got != "Talk to a person" {
		t.Errorf("menu.help = %q", got)
	}
}

func TestT_Interpolation(t *testing.T) {
	c := MustLoad()
	got := c.T("en_US", "get_started.welcome", map[string]string{"userFirstName": "Ana", "shopName": "Icy Threads"})
	if got != "Hi Ana! Welcome to Icy Threads." {
		t.Errorf("welcome = %q", got)
	}
}

func TestT_Fallbacks(t *testing.T) {
	c := MustLoad()

	if got := c.T("fr_FR", "survey.thanks"); got != "Merci pour votre avis !" {
		t.Errorf("fr_FR survey.thanks = %q", got)
	}
	// Key missing in fr_FR falls back to en_US.
	if got := c.T("fr_FR", "care.topic.billing"); got != "Billing" {
		t.Errorf("fr_FR care.topic.billing = %q", got)
	}
	// Same language, different region.
	if got := c.Resolve("fr_CA"); got != "fr_FR" {
		t.Errorf("Resolve(fr_CA) = %q", got)
	}
	if got := c.Resolve("ja_JP"); got != DefaultLocale {
		t.Errorf("Resolve(ja_JP) = %q", got)
	}
	if got := c.T("en_US", "no.such.key"); got != "no.such.key" {
		t.Errorf("missing key = %q", got)
	}
}

func TestLoadFS_RequiresFallback(t *testing.T) {
	fsys := fstest.MapFS{
		"l/de-DE.json": {Data: []byte(`{"a":"b"}`)},
	}
	if _, err := LoadFS(fsys, "l"); err == nil {
		t.Error("expected error when en_US is missing")
	}
}

func TestLoadFS_InvalidJSON(t *testing.T) {
	fsys := fstest.MapFS{
		"l/en-US.json": {Data: []byte(`{`)},
	}
	if _, err := LoadFS(fsys, "l"); err == nil {
		t.Error("expected parse error")
	}
}

func TestT_PassesThroughPlatformPlaceholders(t *testing.T) {
	c := MustLoad()
	got := c.T("en_US", "profile.greeting", map[string]string{
		"shopName":        "Icy Threads",
		"user_first_name": "{{user_first_name}}",
	})
	want := "Hi {{user_first_name}}! Welcome to Icy Threads, the shop for cozy threads."
	if got != want {
		t.Errorf("greeting = %q, want %q", got, want)
	}
}

func TestLoadFS_NestedKeysAndLocaleNames(t *testing.T) {
	fsys := fstest.MapFS{
		"l/en-US.json": {Data: []byte(`{"care":{"topic":{"misc":"Something else"}},"hi":"Hello {{.name}}"}`)},
		"l/pt-BR.json": {Data: []byte(`{"hi":"Olá {{.name}}"}`)},
	}
	c, err := LoadFS(fsys, "l")
	if err != nil {
		t.Fatalf("LoadFS failed: %v", err)
	}
	if got := c.Locales(); len(got) != 2 || got[0] != "en_US" || got[1] != "pt_BR" {
		t.Errorf("Locales() = %v", got)
	}
	if got := c.T("en_US", "care.topic.misc"); got != "Something else" {
		t.Errorf("nested key = %q", got)
	}
	if got := c.T("pt", "hi", map[string]string{"name": "Ana"}); got != "Olá Ana" {
		t.Errorf("pt hi = %q", got)
	}
	if got := c.Resolve("not a locale!"); got != DefaultLocale {
		t.Errorf("Resolve(invalid) = %q", got)
	}
}
