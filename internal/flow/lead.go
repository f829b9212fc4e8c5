package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/models"
	"github.com/BTreeMap/PagePipe/internal/response"
)

// LeadSubmittedEvent is the app event logged when a wholesale lead is captured.
const LeadSubmittedEvent = "lead_submitted"

func (r *Router) lead(ctx context.Context, u User, payload string) []models.Message {
	switch payload {
	case "WHOLESALE_LEAD_YES":
		r.reportLead(ctx, u)
		return []models.Message{response.Text(r.t(u, "lead.collected"))}
	case "WHOLESALE_LEAD_NO":
		return []models.Message{response.Text(r.t(u, "lead.declined"))}
	default:
		return []models.Message{r.leadPrompt(u)}
	}
}

// LeadReferral answers LEAD_COMPLETE and LEAD_INCOMPLETE referrals from lead ads.
func (r *Router) LeadReferral(ctx context.Context, u User, referralType string) []models.Message {
	switch referralType {
	case models.ReferralLeadComplete:
		r.reportLead(ctx, u)
		return []models.Message{response.Text(r.t(u, "lead.complete"))}
	case models.ReferralLeadIncomplete:
		return []models.Message{
			response.Text(r.t(u, "lead.incomplete")),
			r.leadPrompt(u),
		}
	default:
		return nil
	}
}

func (r *Router) leadPrompt(u User) models.Message {
	return response.QuickReply(r.t(u, "lead.prompt"), []response.Option{
		{Title: r.t(u, "lead.yes"), Payload: "WHOLESALE_LEAD_YES"},
		{Title: r.t(u, "lead.no"), Payload: "WHOLESALE_LEAD_NO"},
	})
}

// reportLead logs the lead_submitted app event. Failures are logged only.
func (r *Router) reportLead(ctx context.Context, u User) {
	if r.opts.Reporter == nil {
		return
	}
	err := r.opts.Reporter.PostAppEvent(ctx, graph.AppEvent{EventName: LeadSubmittedEvent, PageScopedUserID: u.PSID})
	if err != nil {
		slog.Error("Router.reportLead: failed to report lead", "error", err, "psid", u.PSID)
	}
}
