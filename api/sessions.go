package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"serve-chroot/session"
)

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	list := h.manager.List()
	infos := make([]session.Info, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(infos)
}

// deleteSession kills a session like the kill request does. Killing is not
// reserved to the master.
func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Kill(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("session", id).Msg("failed to kill session")
		http.Error(w, "failed to kill session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
	Master   bool   `json:"master"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:   "ok",
		Sessions: h.manager.Len(),
		Clients:  h.coord.Len(),
		Master:   h.coord.HasMaster(),
	})
}
