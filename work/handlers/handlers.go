package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"m3u-catalog/work/catalog"
	"m3u-catalog/work/logger"
	"m3u-catalog/work/metrics"
	"m3u-catalog/work/middleware"
	"m3u-catalog/work/types"

	"github.com/gorilla/mux"
)

// categorySummary is one entry of the /categories listing.
type categorySummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Channels int    `json:"channels"`
}

// health is the /healthz body.
type health struct {
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	LoadedAt string `json:"loadedAt,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Register adds the catalog read routes to router. Responses are gzip
// compressed for clients that accept it and carry permissive CORS headers.
func Register(router *mux.Router, reader *catalog.Reader) {
	router.HandleFunc("/channels.json", corsMiddleware(middleware.GzipMiddleware(HandleChannels(reader)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/categories", corsMiddleware(middleware.GzipMiddleware(HandleCategories(reader)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/categories/{name:.+}", corsMiddleware(middleware.GzipMiddleware(HandleCategory(reader)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/healthz", HandleHealth(reader)).Methods("GET")
}

// HandleChannels serves the catalog JSON array. The ETag is a digest of
// the body, so a matching If-None-Match gets an empty 304.
func HandleChannels(reader *catalog.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := reader.Load(r.Context())
		if err != nil {
			logger.Error("{handlers/handlers - HandleChannels} failed to load catalog: %v", err)
			fail(w, "channels", http.StatusBadGateway, "catalog unavailable")
			return
		}

		w.Header().Set("ETag", view.ETag)
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(reader.MaxAge().Seconds())))

		if etagMatches(r.Header.Get("If-None-Match"), view.ETag) {
			w.WriteHeader(http.StatusNotModified)
			metrics.HTTPRequests.WithLabelValues("channels", "304").Inc()
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(view.Body); err != nil {
			logger.Debug("{handlers/handlers - HandleChannels} client went away: %v", err)
		}
		metrics.HTTPRequests.WithLabelValues("channels", "200").Inc()
	}
}

// HandleCategories lists the categories with their channel counts, in
// catalog order.
func HandleCategories(reader *catalog.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := reader.Load(r.Context())
		if err != nil {
			logger.Error("{handlers/handlers - HandleCategories} failed to load catalog: %v", err)
			fail(w, "categories", http.StatusBadGateway, "catalog unavailable")
			return
		}

		out := make([]categorySummary, 0, len(view.Categories))
		for _, c := range view.Categories {
			out = append(out, categorySummary{ID: c.ID, Name: c.Name, Channels: len(c.Channels)})
		}
		writeJSON(w, "categories", http.StatusOK, out)
	}
}

// HandleCategory returns a single category with its channels. The name
// may contain slashes, as in "Kids/Teens".
func HandleCategory(reader *catalog.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		view, err := reader.Load(r.Context())
		if err != nil {
			logger.Error("{handlers/handlers - HandleCategory} failed to load catalog: %v", err)
			fail(w, "category", http.StatusBadGateway, "catalog unavailable")
			return
		}

		category, ok := view.Category(name)
		if !ok {
			logger.Debug("{handlers/handlers - HandleCategory} category not found: %s", name)
			fail(w, "category", http.StatusNotFound, fmt.Sprintf("category %q not found", name))
			return
		}
		if category.Channels == nil {
			category.Channels = []*types.Channel{}
		}
		writeJSON(w, "category", http.StatusOK, category)
	}
}

// HandleHealth reports whether the catalog can be loaded.
func HandleHealth(reader *catalog.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := reader.Load(r.Context())
		if err != nil {
			writeJSON(w, "healthz", http.StatusServiceUnavailable, health{Status: "unavailable", Error: err.Error()})
			return
		}
		writeJSON(w, "healthz", http.StatusOK, health{
			Status:   "ok",
			Channels: len(view.Channels),
			LoadedAt: view.LoadedAt.UTC().Format(time.RFC3339),
		})
	}
}

// corsMiddleware lets browser players on other origins read the catalog.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
		w.Header().Set("Access-Control-Expose-Headers", "ETag")

		// preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// etagMatches handles the list and wildcard forms of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, route string, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - writeJSON} failed to encode %s response: %v", route, err)
	}
	metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func fail(w http.ResponseWriter, route string, status int, msg string) {
	writeJSON(w, route, status, map[string]string{"error": msg})
}
