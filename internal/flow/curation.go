package flow

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

// Occasions a suggestion can be curated for.
const (
	OccasionWork   = "WORK"
	OccasionDinner = "DINNER"
	OccasionParty  = "PARTY"
)

// RecurringCurationPayload is the curation sent to recurring notification subscribers.
const RecurringCurationPayload = "CURATION_BUDGET_50_DINNER"

// Product is a catalog item offered by the curation flow.
type Product struct {
	ID       string
	Title    string
	Price    int
	Occasion string
	OnSale   bool
	Image    string
}

// catalog is the fixed product list the curation flow picks from.
var catalog = []Product{
	{ID: "knit-cardigan", Title: "Knit Cardigan", Price: 48, Occasion: OccasionWork, Image: "cardigan.jpg"},
	{ID: "oxford-shirt", Title: "Oxford Shirt", Price: 29, Occasion: OccasionWork, Image: "oxford.jpg"},
	{ID: "wool-socks", Title: "Wool Socks", Price: 12, Occasion: OccasionWork, OnSale: true, Image: "socks.jpg"},
	{ID: "velvet-blazer", Title: "Velvet Blazer", Price: 49, Occasion: OccasionDinner, Image: "blazer.jpg"},
	{ID: "silk-scarf", Title: "Silk Scarf", Price: 19, Occasion: OccasionDinner, OnSale: true, Image: "scarf.jpg"},
	{ID: "linen-trousers", Title: "Linen Trousers", Price: 28, Occasion: OccasionDinner, Image: "trousers.jpg"},
	{ID: "sequin-top", Title: "Sequin Top", Price: 35, Occasion: OccasionParty, Image: "sequin.jpg"},
	{ID: "beanie", Title: "Chunky Beanie", Price: 15, Occasion: OccasionParty, OnSale: true, Image: "beanie.jpg"},
	{ID: "denim-jacket", Title: "Denim Jacket", Price: 45, Occasion: OccasionParty, Image: "denim.jpg"},
}

// Products returns the catalog items matching occasion with a price <= budget.
func Products(occasion string, budget int) []Product {
	var out []Product
	for _, p := range catalog {
		if p.Occasion == occasion && p.Price <= budget {
			out = append(out, p)
		}
	}
	return out
}

func saleProducts() []Product {
	var out []Product
	for _, p := range catalog {
		if p.OnSale {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) curation(u User, payload string) []models.Message {
	switch {
	case payload == "CURATION":
		return []models.Message{response.QuickReply(r.t(u, "curation.prompt"), []response.Option{
			{Title: r.t(u, "curation.me"), Payload: "CURATION_FOR_ME"},
			{Title: r.t(u, "curation.someone_else"), Payload: "CURATION_SOMEONE_ELSE"},
		})}
	case payload == "CURATION_FOR_ME" || payload == "CURATION_SOMEONE_ELSE" || payload == "CURATION_OTHER_STYLE":
		return []models.Message{response.QuickReply(r.t(u, "curation.occasion"), []response.Option{
			{Title: r.t(u, "curation.work"), Payload: "CURATION_OCASION_" + OccasionWork},
			{Title: r.t(u, "curation.dinner"), Payload: "CURATION_OCASION_" + OccasionDinner},
			{Title: r.t(u, "curation.party"), Payload: "CURATION_OCASION_" + OccasionParty},
			{Title: r.t(u, "curation.sales"), Payload: "CURATION_SALES"},
		})}
	case strings.HasPrefix(payload, "CURATION_OCASION_"):
		occasion := strings.TrimPrefix(payload, "CURATION_OCASION_")
		return []models.Message{response.QuickReply(r.t(u, "curation.price"), []response.Option{
			{Title: r.t(u, "curation.twenty"), Payload: "CURATION_BUDGET_20_" + occasion},
			{Title: r.t(u, "curation.thirty"), Payload: "CURATION_BUDGET_30_" + occasion},
			{Title: r.t(u, "curation.fifty"), Payload: "CURATION_BUDGET_50_" + occasion},
		})}
	case strings.HasPrefix(payload, "CURATION_BUDGET_"):
		return r.suggestion(u, payload)
	case payload == "CURATION_SALES":
		products := saleProducts()
		elements := make([]models.Element, 0, len(products))
		for _, p := range products {
			elements = append(elements, r.productElement(u, p))
		}
		return []models.Message{
			response.Text(r.t(u, "curation.sales_intro")),
			response.GenericTemplate(elements...),
		}
	case strings.Contains(payload, "COUPON"):
		return []models.Message{
			response.Text(r.t(u, "curation.coupon_intro")),
			response.Text(r.t(u, "curation.coupon_code", map[string]string{"code": "THREADS10", "percent": "10"})),
			response.QuickReply(r.t(u, "get_started.help"), r.mainMenu(u)),
		}
	case strings.Contains(payload, "PRODUCT_LAUNCH"):
		return []models.Message{
			response.GenericTemplate(response.Element(
				r.t(u, "curation.launch_title"),
				r.t(u, "curation.launch_subtitle"),
				r.imageURL("collection.jpg"),
				response.URLButton(r.t(u, "menu.shop"), r.opts.ShopURL),
			)),
			response.RecurringNotificationsOptin(
				r.t(u, "curation.launch_optin"),
				r.imageURL("collection.jpg"),
				"PRODUCT_LAUNCH_OPTIN",
				"WEEKLY",
				r.opts.Timezone,
			),
		}
	default:
		return []models.Message{r.Fallback(u)}
	}
}

// suggestion answers CURATION_BUDGET_<amount>_<occasion>.
func (r *Router) suggestion(u User, payload string) []models.Message {
	rest := strings.TrimPrefix(payload, "CURATION_BUDGET_")
	amount, occasion, _ := strings.Cut(rest, "_")
	budget, err := strconv.Atoi(amount)
	if err != nil || occasion == "" {
		return []models.Message{r.Fallback(u)}
	}

	products := Products(occasion, budget)
	if len(products) == 0 {
		return r.curation(u, "CURATION_SALES")
	}
	p := products[r.opts.Pick(len(products))]
	return []models.Message{
		response.Text(r.t(u, "curation.show")),
		response.GenericTemplate(r.productElement(u, p)),
	}
}

func (r *Router) productElement(u User, p Product) models.Element {
	return response.Element(
		p.Title,
		"$"+strconv.Itoa(p.Price),
		r.imageURL(p.Image),
		response.URLButton(r.t(u, "curation.view"), strings.TrimRight(r.opts.ShopURL, "/")+"/products/"+p.ID),
		response.PostbackButton(r.t(u, "curation.another"), "CURATION_OTHER_STYLE"),
	)
}
