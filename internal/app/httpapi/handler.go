// Package httpapi exposes the NooSpace REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/noospace-net/noospace/internal/app"
	"github.com/noospace-net/noospace/internal/app/metrics"
	feedsvc "github.com/noospace-net/noospace/internal/app/services/feed"
	harvestsvc "github.com/noospace-net/noospace/internal/app/services/harvest"
	rewardsvc "github.com/noospace-net/noospace/internal/app/services/rewards"
	"github.com/noospace-net/noospace/pkg/logger"
)

// guestSessionHeader carries the client-chosen guest session ID so guest
// quota counting survives across requests.
const guestSessionHeader = "X-Guest-Session"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// Options tunes the HTTP surface.
type Options struct {
	// RatePerSecond and RateBurst configure the per-client token bucket.
	// A zero rate disables limiting.
	RatePerSecond float64
	RateBurst     int
}

// NewHandler returns a router exposing the REST API, the live feed socket,
// health and metrics.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/posts", h.createPost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/resonate", h.resonate).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/sacrifice", h.sacrifice).Methods(http.MethodPost)
	r.HandleFunc("/feed", h.feed).Methods(http.MethodGet)
	r.HandleFunc("/feed/live", h.feedLive).Methods(http.MethodGet)
	r.HandleFunc("/harvest", h.harvest)
	r.HandleFunc("/wallets/{wallet}", h.wallet).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{wallet}/quota", h.quota).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	var out http.Handler = r
	if opts.RatePerSecond > 0 {
		out = rateLimit(opts.RatePerSecond, opts.RateBurst, out)
	}
	out = metrics.InstrumentHandler(out)
	return out
}

func (h *handler) createPost(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Wallet string `json:"wallet"`
		Text   string `json:"text"`
		Intent bool   `json:"intent"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	post, err := h.app.Rewards.SubmitPost(r.Context(), payload.Wallet, payload.Text, payload.Intent)
	switch {
	case errors.Is(err, rewardsvc.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, rewardsvc.ErrQuotaExceeded):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.log.WithError(err).Error("submit post failed")
		writeError(w, http.StatusInternalServerError, errors.New("server error"))
		return
	}

	// Guests carry their quota in a session header; the count is advisory
	// and enforced client-side, matching the ephemeral guest experience.
	if strings.TrimSpace(payload.Wallet) == "" {
		if session := strings.TrimSpace(r.Header.Get(guestSessionHeader)); session != "" {
			if _, err := h.app.Rewards.GuestIncrement(r.Context(), session); err != nil {
				h.log.WithError(err).Warn("guest usage increment failed")
			}
		}
	}

	writeJSON(w, http.StatusCreated, post)
}

func (h *handler) feed(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	posts := h.app.Feed.ListLimit(r.Context(), limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

func (h *handler) resonate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	count, err := h.app.Feed.Resonate(r.Context(), id)
	switch {
	case errors.Is(err, feedsvc.ErrPostNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		h.log.WithError(err).Error("resonate failed")
		writeError(w, http.StatusInternalServerError, errors.New("server error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"resonates": count})
}

func (h *handler) sacrifice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var payload struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	post, err := h.app.Feed.Sacrifice(r.Context(), strings.TrimSpace(payload.Wallet), id)
	switch {
	case errors.Is(err, feedsvc.ErrNoWallet):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, feedsvc.ErrPostNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, feedsvc.ErrAlreadyHighlighted):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, feedsvc.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.log.WithError(err).Error("sacrifice failed")
		writeError(w, http.StatusInternalServerError, errors.New("server error"))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// harvest keeps the legacy wire contract: POST only, an {ok: bool} envelope,
// business rejections as 400 with the reason, everything else as a plain
// "server error".
func (h *handler) harvest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Wallet string `json:"wallet"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeEnvelope(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
		return
	}

	harvested, err := h.app.Harvest.Harvest(r.Context(), strings.TrimSpace(payload.Wallet))
	if err != nil {
		var notReady *harvestsvc.NotReadyError
		switch {
		case errors.Is(err, harvestsvc.ErrNothingToHarvest):
			// An empty pool is not a failure on the wire.
			writeEnvelope(w, http.StatusOK, map[string]interface{}{"ok": true, "harvested": int64(0)})
		case errors.Is(err, harvestsvc.ErrNoWallet), errors.As(err, &notReady):
			writeEnvelope(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": err.Error()})
		default:
			h.log.WithError(err).Error("harvest failed")
			writeEnvelope(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "server error"})
		}
		return
	}

	writeEnvelope(w, http.StatusOK, map[string]interface{}{"ok": true, "harvested": harvested})
}

func (h *handler) wallet(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	snap, err := h.app.Feed.Snapshot(r.Context(), wallet)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) quota(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	used, err := h.app.Rewards.Used(r.Context(), wallet)
	if err != nil {
		h.log.WithError(err).Warn("quota read failed; reporting zero usage")
		used = 0
	}
	limit := h.app.Rewards.DailyLimit()
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"used":      used,
		"limit":     limit,
		"remaining": remaining,
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeEnvelope(w http.ResponseWriter, status int, data map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
