package flow

import (
	"strings"

	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

// careTopicPayloads is the order of the care topic quick replies.
var careTopicPayloads = []string{"CARE_ORDER", "CARE_BILLING", "CARE_OTHER"}

// careTopics maps care payloads to their catalog keys.
var careTopics = map[string]string{
	"CARE_ORDER":   "care.topic.order",
	"CARE_BILLING": "care.topic.billing",
	"CARE_OTHER":   "care.topic.misc",
}

func (r *Router) care(u User, payload string) []models.Message {
	switch payload {
	case "CARE_HELP":
		return []models.Message{response.QuickReply(r.t(u, "care.prompt"), r.careTopicOptions(u))}
	case "CARE_ORDER", "CARE_BILLING":
		topic := strings.ToLower(r.t(u, careTopics[payload]))
		return append([]models.Message{
			response.Text(r.t(u, "care.issue", map[string]string{"topic": topic})),
		}, r.handoff(u)...)
	default:
		return r.handoff(u)
	}
}

func (r *Router) careTopicOptions(u User) []response.Option {
	opts := make([]response.Option, 0, len(careTopicPayloads))
	for _, p := range careTopicPayloads {
		opts = append(opts, response.Option{Title: r.t(u, careTopics[p]), Payload: p})
	}
	return opts
}

// handoff tells the user a person will take over and offers an appointment.
func (r *Router) handoff(u User) []models.Message {
	return []models.Message{
		response.Text(r.t(u, "care.default")),
		response.ButtonTemplate(
			r.t(u, "care.agent", map[string]string{"agentFirstName": r.opts.AgentName}),
			response.PostbackButton(r.t(u, "care.book"), "BOOK_APPOINTMENT"),
		),
	}
}
