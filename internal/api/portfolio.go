package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"crypto-tracker/internal/chart"
	"crypto-tracker/internal/types"
)

func validSymbol(symbol string) bool {
	return len(symbol) >= 2 && len(symbol) <= 10
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.store.ListAssets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string  `json:"symbol"`
		Amount float64 `json:"amount"`
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
	if req.Amount <= 0 {
		writeError(w, invalid("amount must be greater than 0"))
		return
	}

	created, err := s.store.CreateAsset(r.Context(), types.Asset{Symbol: req.Symbol, Amount: req.Amount})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, invalid("amount must be greater than 0"))
		return
	}

	updated, err := s.store.UpdateAssetAmount(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteAsset(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "asset deleted"})
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	v, err := s.portfolio.Valuation(r.Context(), r.URL.Query().Get("currency"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDiversification(w http.ResponseWriter, r *http.Request) {
	d, err := s.portfolio.Diversification(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.portfolio.SaveSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "snapshot saved",
		"value":    snap.TotalValueUSD,
		"snapshot": snap,
	})
}

func (s *Server) historyDays(r *http.Request) (int, error) {
	days, err := intQuery(r, "days", 7)
	if err != nil {
		return 0, err
	}
	if days < 1 || days > 365 {
		return 0, invalid("days must be between 1 and 365")
	}
	return days, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days, err := s.historyDays(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.portfolio.History(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	days, err := s.historyDays(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h, err := s.portfolio.History(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}

	png, err := chart.RenderHistory(fmt.Sprintf("Portfolio value, last %d days", days), h.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handlePurgeHistory(w http.ResponseWriter, r *http.Request) {
	retention := s.retention
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			writeError(w, invalid("older_than_days must be a positive integer"))
			return
		}
		retention = time.Duration(days) * 24 * time.Hour
	}

	n, err := s.portfolio.Purge(r.Context(), retention)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n, "older_than_days": int(retention.Hours() / 24)})
}
