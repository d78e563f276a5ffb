package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hydropi/hydropi/controller"
	"github.com/hydropi/hydropi/controller/modules/history"
)

const defaultHistoryLimit = 24

// LoadAPI registers all REST endpoints.
func (c *Controller) LoadAPI(r *mux.Router) {
	sr := r.PathPrefix("/api/cycle").Subrouter()
	sr.HandleFunc("/status", c.status).Methods("GET")
	sr.HandleFunc("/run", c.runNow).Methods("POST")
	sr.HandleFunc("/history", c.historyList).Methods("GET")
	sr.HandleFunc("/history/{id}", c.historyOne).Methods("GET")
	sr.HandleFunc("/log", c.logList).Methods("GET")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (c *Controller) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Status())
}

// runNow starts a cycle detached from the request, so a client disconnect
// does not cut a dosing pulse short.
func (c *Controller) runNow(w http.ResponseWriter, r *http.Request) {
	err := c.Trigger(context.WithoutCancel(r.Context()))
	if errors.Is(err, controller.ErrCycleInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	c.appendLog("Manual cycle triggered")
	w.WriteHeader(http.StatusAccepted)
}

func (c *Controller) historyList(w http.ResponseWriter, r *http.Request) {
	n := defaultHistoryLimit
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = v
	}
	recs, err := c.deps.History.Recent(n)
	if err != nil {
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (c *Controller) historyOne(w http.ResponseWriter, r *http.Request) {
	rec, err := c.deps.History.Get(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, history.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func (c *Controller) logList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, c.Logs())
}
