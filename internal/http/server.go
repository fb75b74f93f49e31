package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/bumahkib7/vernont-backend-sub007/internal/log"
	"github.com/bumahkib7/vernont-backend-sub007/internal/service"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

// StartServer exposes the operator query surface over plain HTTP. The
// engine's execution entry point is deliberately not exposed here:
// transport for business callers is out of scope.
func StartServer(port string, store storage.Store) error {
	svc := service.NewAdminService(store)
	mux := NewMux(svc)
	log.GetLogger().Infof("Starting workflow admin server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

// NewMux builds the admin routes; split out so tests can drive it with
// httptest.
func NewMux(svc *service.AdminService) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/executions", listExecutionsHandler(svc))
	mux.HandleFunc("/executions/", executionHandler(svc))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func listExecutionsHandler(svc *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		executions, err := svc.ListExecutions()
		if err != nil {
			log.GetLogger().Errorf("Failed to list executions: %v", err)
			http.Error(w, "Failed to list executions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, executions)
	}
}

// executionHandler serves /executions/{id} and /executions/{id}/events.
func executionHandler(svc *service.AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/executions/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")

		switch {
		case len(parts) == 1 && parts[0] != "":
			getExecutionHTTP(w, svc, parts[0])
		case len(parts) == 2 && parts[1] == "events":
			listEventsHTTP(w, r, svc, parts[0])
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

func getExecutionHTTP(w http.ResponseWriter, svc *service.AdminService, id string) {
	execution, err := svc.GetExecution(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.GetLogger().Errorf("Failed to get execution %s: %v", id, err)
		http.Error(w, "Failed to get execution", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

func listEventsHTTP(w http.ResponseWriter, r *http.Request, svc *service.AdminService, id string) {
	order := storage.OrderByStepIndex
	if r.URL.Query().Get("order") == "started_at" {
		order = storage.OrderByStartedAt
	}
	events, err := svc.ListStepEvents(id, order)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.GetLogger().Errorf("Failed to list step events for %s: %v", id, err)
		http.Error(w, "Failed to list step events", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}
