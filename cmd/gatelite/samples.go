package main

import (
	"encoding/json"
	"net/http"
	"time"
)

// registerSamples mounts the demo endpoints the default routes point at.
func registerSamples(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "GateLite rate limiting demo"})
	})
	mux.HandleFunc("GET /api/products", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "name": "Product 1", "price": 10.0},
			{"id": 2, "name": "Product 2", "price": 20.0},
		})
	})
	mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "name": "User 1"},
			{"id": 2, "name": "User 2"},
		})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"token": "sample-token", "message": "Login successful"})
	})
	mux.HandleFunc("GET /public/feed", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": []string{"item1", "item2"}, "timestamp": time.Now().UTC()})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
