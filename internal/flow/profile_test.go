package flow

import (
	"strings"
	"testing"
)

func TestMessengerProfile(t *testing.T) {
	p := newTestRouter().MessengerProfile()

	if p.GetStarted == nil || p.GetStarted.Payload != PayloadGetStarted {
		t.Errorf("unexpected get started %+v", p.GetStarted)
	}
	// default plus en_US and fr_FR
	if len(p.Greeting) != 3 || len(p.PersistentMenu) != 3 {
		t.Fatalf("expected 3 greetings and menus, got %d and %d", len(p.Greeting), len(p.PersistentMenu))
	}
	if p.Greeting[0].Locale != DefaultProfileLocale {
		t.Errorf("first greeting locale = %q", p.Greeting[0].Locale)
	}
	g := p.Greeting[0].Text
	if !strings.Contains(g, "{{user_first_name}}") || !strings.Contains(g, "Icy Threads") {
		t.Errorf("greeting = %q", g)
	}

	menu := p.PersistentMenu[0].CallToActions
	if len(menu) != 4 || menu[3].URL != "https://shop.example" {
		t.Errorf("unexpected menu %+v", menu)
	}
	if len(p.WhitelistedDomains) != 2 || p.WhitelistedDomains[0] != "https://bot.example" {
		t.Errorf("unexpected domains %v", p.WhitelistedDomains)
	}
}

func TestMessengerProfile_NoShopURL(t *testing.T) {
	r := newTestRouter(WithShop("Icy Threads", ""))
	p := r.MessengerProfile()
	if n := len(p.PersistentMenu[0].CallToActions); n != 3 {
		t.Errorf("expected 3 menu items without a shop URL, got %d", n)
	}
	if len(p.WhitelistedDomains) != 1 {
		t.Errorf("unexpected domains %v", p.WhitelistedDomains)
	}
}
