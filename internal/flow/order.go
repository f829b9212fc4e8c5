package flow

import (
	"strings"

	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

func (r *Router) order(u User, payload string) []models.Message {
	switch payload {
	case "SEARCH_ORDER":
		return []models.Message{response.Text(r.t(u, "order.search"))}
	case "ORDER_NUMBER":
		return []models.Message{
			response.Text(r.t(u, "order.info")),
			response.Image(r.imageURL("shipping.png")),
			response.Text(r.t(u, "order.status", map[string]string{"orderNumber": "#A123"})),
		}
	case "LINK_ORDER":
		return []models.Message{response.ButtonTemplate(
			r.t(u, "order.link"),
			response.URLButton(r.t(u, "order.link_button"), strings.TrimRight(r.opts.ShopURL, "/")+"/account"),
		)}
	default:
		return []models.Message{response.QuickReply(r.t(u, "order.prompt"), []response.Option{
			{Title: r.t(u, "order.number"), Payload: "SEARCH_ORDER"},
			{Title: r.t(u, "order.account"), Payload: "LINK_ORDER"},
		})}
	}
}
