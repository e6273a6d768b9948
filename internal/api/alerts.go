package api

import (
	"fmt"
	"net/http"

	"crypto-tracker/internal/alert"
	"crypto-tracker/internal/types"
)

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	status := types.AlertStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, invalid("status must be active, triggered or cancelled"))
		return
	}

	alerts, err := s.store.ListAlerts(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol      string               `json:"symbol"`
		TargetPrice float64              `json:"target_price"`
		Condition   types.AlertCondition `json:"condition"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	req.Symbol = types.NormalizeSymbol(req.Symbol)
	if !validSymbol(req.Symbol) {
		writeError(w, invalid("symbol must be 2 to 10 characters"))
		return
	}
	if req.TargetPrice <= 0 {
		writeError(w, invalid("target_price must be greater than 0"))
		return
	}
	if !req.Condition.Valid() {
		writeError(w, invalid("condition must be above or below"))
		return
	}

	created, err := s.store.CreateAlert(r.Context(), types.PriceAlert{
		Symbol:      req.Symbol,
		TargetPrice: req.TargetPrice,
		Condition:   req.Condition,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteAlert(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "alert deleted"})
}

func (s *Server) handleCancelAlert(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cancelled, err := s.store.CancelAlert(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

type checkResponse struct {
	Checked           int                    `json:"checked"`
	Triggered         []types.TriggeredEvent `json:"triggered"`
	SchedulerStatus   string                 `json:"scheduler_status"`
	SchedulerInterval string                 `json:"scheduler_interval"`
}

// handleCheckAlerts runs one evaluation cycle on demand. Provider failures are
// returned to the caller instead of being swallowed like on scheduled ticks.
func (s *Server) handleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	result, err := s.checker.CheckActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := checkResponse{
		Checked:         result.Checked,
		Triggered:       result.Triggered,
		SchedulerStatus: "stopped",
	}
	if resp.Triggered == nil {
		resp.Triggered = []types.TriggeredEvent{}
	}
	if s.scheduler != nil {
		st := s.scheduler.Status()
		if st.Running {
			resp.SchedulerStatus = "running"
		}
		resp.SchedulerInterval = fmt.Sprintf("%gs", st.IntervalSeconds)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, alert.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}
