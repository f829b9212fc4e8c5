package flow

import (
	"net/url"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

// DefaultProfileLocale is the locale code Messenger uses for the fallback
// greeting and menu.
const DefaultProfileLocale = "default"

// MessengerProfile builds the page's Get Started button, greetings and
// persistent menus for every loaded locale, and whitelists the app and shop
// domains used by web buttons.
func (r *Router) MessengerProfile() graph.MessengerProfile {
	p := graph.MessengerProfile{GetStarted: &graph.GetStarted{Payload: PayloadGetStarted}}

	p.Greeting = append(p.Greeting, r.greeting(DefaultProfileLocale, r.cat.Resolve("")))
	p.PersistentMenu = append(p.PersistentMenu, r.persistentMenu(DefaultProfileLocale, r.cat.Resolve("")))
	for _, locale := range r.cat.Locales() {
		p.Greeting = append(p.Greeting, r.greeting(locale, locale))
		p.PersistentMenu = append(p.PersistentMenu, r.persistentMenu(locale, locale))
	}

	for _, raw := range []string{r.opts.AppURL, r.opts.ShopURL} {
		if origin := originOf(raw); origin != "" {
			p.WhitelistedDomains = append(p.WhitelistedDomains, origin)
		}
	}
	return p
}

func (r *Router) greeting(profileLocale, catalogLocale string) graph.Greeting {
	u := User{Locale: catalogLocale}
	// {{user_first_name}} is passed through for Messenger to fill in.
	text := r.t(u, "profile.greeting", map[string]string{
		"shopName":        r.opts.ShopName,
		"user_first_name": "{{user_first_name}}",
	})
	return graph.Greeting{Locale: profileLocale, Text: text}
}

func (r *Router) persistentMenu(profileLocale, catalogLocale string) graph.PersistentMenu {
	u := User{Locale: catalogLocale}
	actions := []models.Button{
		response.PostbackButton(r.t(u, "menu.suggestion"), "CURATION"),
		response.PostbackButton(r.t(u, "menu.order"), "ORDER"),
		response.PostbackButton(r.t(u, "menu.help"), "CARE_HELP"),
	}
	if r.opts.ShopURL != "" {
		actions = append(actions, response.URLButton(r.t(u, "menu.shop"), r.opts.ShopURL))
	}
	return graph.PersistentMenu{Locale: profileLocale, CallToActions: actions}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
