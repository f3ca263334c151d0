// handlers/admin_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/services"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// AdminHandler exposes operator triggers for the refresh pipeline.
type AdminHandler struct {
	Pipeline *services.Pipeline
	Logger   *utils.Logger
}

// SetupRoutes registers the admin API on router.
func SetupRoutes(router *mux.Router, h *AdminHandler) {
	router.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/status", h.Status).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/check-update/{family}", h.CheckAndUpdate).Methods(http.MethodPost)
	router.HandleFunc("/api/admin/refresh/{family}", h.ForceRefresh).Methods(http.MethodPost)
}

// NewRouter returns a router serving the admin API.
func NewRouter(h *AdminHandler) *mux.Router {
	router := mux.NewRouter()
	SetupRoutes(router, h)
	return router
}

// Helper to respond with JSON
func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.Logger.Error("[api] marshalling JSON response: %v", err)
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper to respond with an error
func (h *AdminHandler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.Logger.Warn("[api] error %d: %s", code, message)
	h.respondWithJSON(w, code, map[string]string{"error": message})
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"expected_date": h.Pipeline.ExpectedDate(),
	})
}

func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Pipeline.Status(r.Context())
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondWithJSON(w, http.StatusOK, st)
}

// CheckAndUpdate runs an auto cycle for /api/admin/check-update/{family}.
func (h *AdminHandler) CheckAndUpdate(w http.ResponseWriter, r *http.Request) {
	families, err := parseFamilies(mux.Vars(r)["family"])
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, r, services.RunOptions{Mode: services.ModeAuto, Families: families})
}

// ForceRefresh runs a manual cycle for /api/admin/refresh/{family}. The
// no_download and no_backup query parameters mirror the CLI flags.
func (h *AdminHandler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	families, err := parseFamilies(mux.Vars(r)["family"])
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := services.RunOptions{Mode: services.ModeManual, Families: families}
	if opts.NoDownload, err = queryBool(r, "no_download"); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.NoBackup, err = queryBool(r, "no_backup"); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.run(w, r, opts)
}

func (h *AdminHandler) run(w http.ResponseWriter, r *http.Request, opts services.RunOptions) {
	// A client hanging up must not abort a half-merged family.
	ctx := context.WithoutCancel(r.Context())
	report, err := h.Pipeline.Run(ctx, opts)
	switch {
	case errors.Is(err, utils.ErrLocked):
		h.respondWithError(w, http.StatusConflict, err.Error())
	case err != nil && report == nil:
		h.respondWithError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		h.Logger.Warn("[api] %s run %s failed: %v", opts.Mode, report.RunID, err)
		h.respondWithJSON(w, http.StatusInternalServerError, report)
	default:
		h.respondWithJSON(w, http.StatusOK, report)
	}
}

// parseFamilies maps a path segment to families. "all" selects every family.
func parseFamilies(name string) ([]models.Family, error) {
	if strings.EqualFold(name, "all") {
		return nil, nil
	}
	f, err := models.ParseFamily(name)
	if err != nil {
		return nil, fmt.Errorf("%w: use mtl, inspq, qc or all", err)
	}
	return []models.Family{f}, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", name, v)
	}
	return b, nil
}
