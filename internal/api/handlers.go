package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/PagePipe/internal/graph"
	"github.com/BTreeMap/PagePipe/internal/models"
)

// Profile setup modes accepted by /profile.
const (
	ModeWebhook = "webhook"
	ModePage    = "page"
	ModeProfile = "profile"
	ModeDomains = "domains"
	ModeAll     = "all"
)

const setupTimeout = 30 * time.Second

// profileHandler runs the Graph API setup selected by ?mode= (GET /profile).
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.profileHandler: processing profile request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get("verify_token")
	if !tokenMatches(token, s.opts.VerifyToken) {
		slog.Warn("Server.profileHandler: invalid verify token")
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid verify token"))
		return
	}
	if s.opts.Configurer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Page setup not configured"))
		return
	}

	mode := strings.ToLower(r.URL.Query().Get("mode"))
	steps, ok := s.setupSteps(mode)
	if !ok {
		slog.Warn("Server.profileHandler: unknown mode", "mode", mode)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Unknown mode: "+mode))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), setupTimeout)
	defer cancel()
	var done []string
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			slog.Error("Server.profileHandler: setup failed", "step", step.name, "error", err)
			writeJSONResponse(w, http.StatusBadGateway, models.NewAPIResponseBuilder().
				WithStatus(models.APIStatusError).
				WithMessage("Failed to set "+step.name+": "+err.Error()).
				WithResult(done).
				Build())
			return
		}
		done = append(done, step.name)
	}
	slog.Info("Server.profileHandler: page configured", "mode", mode, "steps", done)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Page configured", done))
}

type setupStep struct {
	name string
	run  func(ctx context.Context) error
}

func (s *Server) setupSteps(mode string) ([]setupStep, bool) {
	c := s.opts.Configurer
	webhook := setupStep{ModeWebhook, func(ctx context.Context) error {
		callback := strings.TrimRight(s.opts.AppURL, "/") + "/webhook"
		return c.SetWebhookSubscription(ctx, callback, s.opts.VerifyToken, nil)
	}}
	page := setupStep{ModePage, func(ctx context.Context) error {
		return c.SetPageSubscriptions(ctx, nil)
	}}
	profile := setupStep{ModeProfile, func(ctx context.Context) error {
		p := s.opts.Profile
		p.WhitelistedDomains = nil
		return c.SetMessengerProfile(ctx, p)
	}}
	domains := setupStep{ModeDomains, func(ctx context.Context) error {
		return c.SetMessengerProfile(ctx, graph.MessengerProfile{WhitelistedDomains: s.opts.Profile.WhitelistedDomains})
	}}

	switch mode {
	case ModeWebhook:
		return []setupStep{webhook}, true
	case ModePage:
		return []setupStep{page}, true
	case ModeProfile:
		return []setupStep{profile}, true
	case ModeDomains:
		return []setupStep{domains}, true
	case ModeAll:
		return []setupStep{webhook, page, profile, domains}, true
	default:
		return nil, false
	}
}

// receiptsHandler returns recorded delivery receipts (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.receiptsHandler: processing receipts request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.receiptsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// responsesHandler returns the text messages users sent (GET /responses).
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Server.responsesHandler: failed to fetch responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}

// ordersHandler returns captured orders, newest first (GET /orders). An
// optional ?status= filters by order status.
func (s *Server) ordersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	orders, err := s.st.ListOrders()
	if err != nil {
		slog.Error("Server.ordersHandler: failed to fetch orders", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch orders"))
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]models.Order, 0, len(orders))
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orders))
}

// healthHandler reports liveness and the webhook queue depth.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()

	healthData := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"queued_events":  len(s.queue),
	}
	statusCode := http.StatusOK
	if stopped {
		healthData["status"] = "stopping"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
