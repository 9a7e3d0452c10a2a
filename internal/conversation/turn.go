package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/askcart/askcart/core"
	"github.com/askcart/askcart/orchestration"
)

// ActionConsentConfirm is the structured form of a consent grant.
// Clients that render the consent prompt as a button send it instead of
// relying on the free-text confirmation vocabulary.
const ActionConsentConfirm = "consent_confirm"

// TurnRequest is one inbound chat turn
type TurnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`

	// Action carries a structured client action, e.g. consent_confirm
	Action string `json:"action,omitempty"`

	// Intent and RequestedProducts override detection when the caller
	// already classified the turn upstream
	Intent            string   `json:"intent,omitempty"`
	RequestedProducts []string `json:"requested_products,omitempty"`
}

// TurnResponse is the rendered reply plus the raw orchestration result
type TurnResponse struct {
	SessionID string                             `json:"session_id"`
	Reply     string                             `json:"reply"`
	Result    *orchestration.OrchestrationResult `json:"result,omitempty"`
}

// Handler processes chat turns. A turn either resumes a pending consent
// halt (when the reply confirms) or runs a fresh orchestration; a
// non-confirming reply on a pending halt abandons it.
type Handler struct {
	sessions     *SessionManager
	orchestrator *orchestration.Orchestrator
	halts        orchestration.HaltStore
	logger       core.Logger
}

// NewHandler creates a turn handler
func NewHandler(sessions *SessionManager, orch *orchestration.Orchestrator, halts orchestration.HaltStore, logger core.Logger) *Handler {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Handler{sessions: sessions, orchestrator: orch, halts: halts, logger: logger}
}

// HandleTurn processes one turn end to end
func (h *Handler) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	session, err := h.sessions.Ensure(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	rc := orchestration.RequestContext{
		UserID:    session.UserID,
		SessionID: session.ID,
		Consent: orchestration.ConsentState{
			AccountToggleOn: session.AccountToggleOn,
		},
	}

	halt, err := h.halts.Get(ctx, session.ID)
	if err != nil {
		// Degraded halt store: log and run the turn fresh
		h.logger.Warn("Halt lookup failed, treating turn as fresh", map[string]interface{}{
			"operation":  "turn_halt_lookup",
			"session_id": session.ID,
			"error":      err.Error(),
		})
		halt = nil
	}

	if halt != nil {
		if req.Action == ActionConsentConfirm || orchestration.IsConfirmation(req.Message) {
			// The orchestrator owns the halt record from here: it is
			// deleted on terminal outcomes and rewritten if the resumed
			// run halts again.
			result, err := h.orchestrator.Resume(ctx, halt, rc)
			if err != nil {
				return nil, err
			}
			return h.respond(session.ID, result), nil
		}

		// Any other message abandons the pending consent prompt
		if err := h.halts.Delete(ctx, session.ID); err != nil {
			h.logger.Warn("Abandoned halt cleanup failed", map[string]interface{}{
				"operation":  "turn_halt_abandon",
				"session_id": session.ID,
				"error":      err.Error(),
			})
		}
		h.logger.Debug("Pending consent abandoned", map[string]interface{}{
			"operation":  "turn_halt_abandon",
			"session_id": session.ID,
		})
	}

	intent, query, products := h.classify(req)
	rc.RequestedProducts = products

	result, err := h.orchestrator.Execute(ctx, intent, query, rc)
	if err != nil {
		return nil, err
	}
	return h.respond(session.ID, result), nil
}

// classify resolves the turn's intent, query, and requested products,
// honoring caller-provided overrides before falling back to keyword
// detection. Detection here is deliberately shallow; a real NLU sits
// upstream in production.
func (h *Handler) classify(req TurnRequest) (orchestration.Intent, string, []string) {
	query := strings.TrimSpace(req.Message)

	if req.Intent != "" {
		if intent, ok := orchestration.ParseIntent(req.Intent); ok {
			return intent, query, req.RequestedProducts
		}
	}

	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, " vs ") || strings.Contains(lower, "compare "):
		return orchestration.IntentComparison, query, splitComparison(lower)
	case strings.Contains(lower, "price"):
		return orchestration.IntentPriceCheck, query, nil
	case strings.Contains(lower, "review"):
		return orchestration.IntentReviewDeepDive, query, nil
	case strings.Contains(lower, "hotel") || strings.Contains(lower, "flight") || strings.Contains(lower, "trip"):
		return orchestration.IntentTravel, query, nil
	default:
		return orchestration.IntentProduct, query, nil
	}
}

// splitComparison pulls the compared product names out of a "X vs Y"
// style message
func splitComparison(lower string) []string {
	msg := strings.TrimPrefix(lower, "compare ")
	parts := strings.Split(msg, " vs ")
	var products []string
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "?.!,")
		if p != "" {
			products = append(products, p)
		}
	}
	if len(products) < 2 {
		return nil
	}
	return products
}

// respond renders an orchestration result into a user-facing reply
func (h *Handler) respond(sessionID string, result *orchestration.OrchestrationResult) *TurnResponse {
	resp := &TurnResponse{SessionID: sessionID, Result: result}

	switch result.Status {
	case orchestration.StatusConsentRequired:
		resp.Reply = result.ConsentPrompt.Message

	case orchestration.StatusPartial:
		resp.Reply = fmt.Sprintf(
			"Here's what I could find (%d results from %s). Some sources were unavailable, so this may be incomplete.",
			len(result.Items)+len(result.Snippets), joinSources(result.SourcesUsed))

	default:
		resp.Reply = fmt.Sprintf("Found %d results from %s.",
			len(result.Items)+len(result.Snippets), joinSources(result.SourcesUsed))
	}
	return resp
}

func joinSources(sources []string) string {
	if len(sources) == 0 {
		return "no sources"
	}
	return strings.Join(sources, ", ")
}
