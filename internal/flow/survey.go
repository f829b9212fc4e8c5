package flow

import (
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

func (r *Router) survey(u User, payload string) []models.Message {
	switch payload {
	case "CSAT_GREAT", "CSAT_GOOD":
		return []models.Message{response.Text(r.t(u, "survey.thanks"))}
	case "CSAT_AVERAGE", "CSAT_BAD":
		return []models.Message{
			response.Text(r.t(u, "survey.sorry")),
			response.Text(r.t(u, "survey.suggestion")),
		}
	default:
		return []models.Message{response.QuickReply(r.t(u, "survey.prompt"), []response.Option{
			{Title: r.t(u, "survey.great"), Payload: "CSAT_GREAT"},
			{Title: r.t(u, "survey.good"), Payload: "CSAT_GOOD"},
			{Title: r.t(u, "survey.average"), Payload: "CSAT_AVERAGE"},
			{Title: r.t(u, "survey.bad"), Payload: "CSAT_BAD"},
		})}
	}
}
