package web

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"tc_eqpsim/internal/shared/globalstate"
	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/types"
)

// StatusProvider 让 web 包不依赖 simulator 的具体实现。
type StatusProvider interface {
	Status() *types.SimStatus
}

type Handler struct {
	provider StatusProvider
}

func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// HandleStatus 处理 GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.provider.Status()
	status.State = globalstate.GlobalStatus.Get()
	writeJSON(w, http.StatusOK, status)
}

// HandleEqp 处理 GET /api/eqps/{eqpId}
func (h *Handler) HandleEqp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["eqpId"]
	for _, row := range h.provider.Status().Eqps {
		if row.EqpID == id {
			writeJSON(w, http.StatusOK, row)
			return
		}
	}
	http.NotFound(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("Failed to write JSON response")
	}
}
