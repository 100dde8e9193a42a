package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/userdir/internal/calculator"
	"github.com/prn-tf/userdir/internal/service"
)

const (
	// CalculatorSessionCookie carries the keypad session id for browsers.
	CalculatorSessionCookie = "calc_session"

	// CalculatorSessionHeader carries the keypad session id for API clients.
	// Responses echo it so clients without cookies can keep their session.
	CalculatorSessionHeader = "X-Calculator-Session"

	maxSessionIDLength = 64
)

// calculatorSession returns the caller's keypad session id, taken from the
// header or the cookie. A caller without one gets a new id as both cookie
// and response header. Must run before the response is written.
func calculatorSession(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(CalculatorSessionHeader)
	if id == "" {
		if c, err := r.Cookie(CalculatorSessionCookie); err == nil {
			id = c.Value
		}
	}
	if id == "" || len(id) > maxSessionIDLength {
		id = service.NewSessionID()
		http.SetCookie(w, &http.Cookie{
			Name:     CalculatorSessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(CalculatorSessionHeader, id)
	return id
}

// CalculatorHandler serves the calculator JSON API.
type CalculatorHandler struct {
	calculatorService *service.CalculatorService
	logger            zerolog.Logger
}

// NewCalculatorHandler creates a new CalculatorHandler.
func NewCalculatorHandler(calculatorService *service.CalculatorService, logger zerolog.Logger) *CalculatorHandler {
	return &CalculatorHandler{
		calculatorService: calculatorService,
		logger:            logger.With().Str("handler", "calculator").Logger(),
	}
}

// RegisterRoutes registers the calculator routes under r.
func (h *CalculatorHandler) RegisterRoutes(r chi.Router) {
	r.Get("/calculator", h.GetState)
	r.Get("/calculator/operations", h.ListOperations)
	r.Post("/calculator/evaluate", h.Evaluate)
	r.Post("/calculator/keys", h.PressKeys)
	r.Post("/calculator/clear", h.Clear)
}

// EvaluateRequest is the body of POST /calculator/evaluate.
type EvaluateRequest struct {
	Operation string    `json:"operation"`
	Operands  []float64 `json:"operands"`
}

// PressKeysRequest is the body of POST /calculator/keys.
type PressKeysRequest struct {
	Keys []string `json:"keys"`
}

// GetState handles GET /calculator.
func (h *CalculatorHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.calculatorService.State(calculatorSession(w, r)))
}

// ListOperations handles GET /calculator/operations.
func (h *CalculatorHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.calculatorService.Operations())
}

// Evaluate handles POST /calculator/evaluate.
func (h *CalculatorHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.calculatorService.Evaluate(r.Context(), service.EvaluateInput{
		Operation: req.Operation,
		Operands:  req.Operands,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PressKeysResponse is returned by POST /calculator/keys.
type PressKeysResponse struct {
	calculator.State
	Rejected *APIError `json:"rejected,omitempty"`
}

// PressKeys handles POST /calculator/keys. An invalid key is rejected with
// 400 and the state reached before it. Each caller has its own keypad,
// identified by CalculatorSessionHeader or CalculatorSessionCookie.
func (h *CalculatorHandler) PressKeys(w http.ResponseWriter, r *http.Request) {
	session := calculatorSession(w, r)

	var req PressKeysRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	state, err := h.calculatorService.Press(r.Context(), session, req.Keys...)
	if err != nil {
		apiErr := mapError(err)
		apiErr.RequestID = RequestIDFromContext(r.Context())
		writeJSON(w, apiErr.HTTPStatusCode, PressKeysResponse{State: state, Rejected: &apiErr})
		return
	}
	writeJSON(w, http.StatusOK, PressKeysResponse{State: state})
}

// Clear handles POST /calculator/clear.
func (h *CalculatorHandler) Clear(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.calculatorService.Clear(calculatorSession(w, r)))
}
