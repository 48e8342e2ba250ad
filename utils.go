package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"fleetcommand/pkg/combat"
	"fleetcommand/pkg/command"
	"fleetcommand/pkg/formation"
	"fleetcommand/pkg/logistics"
	"fleetcommand/pkg/orders"
)

func setupLogging(logDir string) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("log dir %s: %v", logDir, err)
	}
	var info, errw io.Writer = os.Stdout, os.Stderr
	if f, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666); err == nil {
		info = io.MultiWriter(os.Stdout, f)
	}
	if f, err := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666); err == nil {
		errw = io.MultiWriter(os.Stderr, f)
	}
	InfoLog = log.New(info, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(errw, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func getLimiter(ip string) *rate.Limiter {
	ipLock.Lock()
	defer ipLock.Unlock()
	limiter, exists := ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(cfg.Web.RateLimit), cfg.Web.RateBurst)
		ipLimiters[ip] = limiter
	}
	return limiter
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func middlewareSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !getLimiter(ip).Allow() {
			jsonError(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		if r.Method == http.MethodGet || r.Method == http.MethodOptions || r.Method == http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" || strings.Contains(contentType, "application/json") {
			next.ServeHTTP(w, r)
			return
		}
		jsonError(w, "bad content type: "+contentType, http.StatusUnsupportedMediaType)
	})
}

func jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// commandError maps command-layer errors onto HTTP status codes.
func commandError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrUnknownFleet), errors.Is(err, combat.ErrUnknownFleet),
		errors.Is(err, formation.ErrUnknownFleet), errors.Is(err, logistics.ErrUnknownFleet),
		errors.Is(err, combat.ErrUnknownEngagement), errors.Is(err, orders.ErrUnknownOrder):
		code = http.StatusNotFound
	case errors.Is(err, command.ErrFleetExists), errors.Is(err, combat.ErrAlreadyEngaged):
		code = http.StatusConflict
	case errors.Is(err, orders.ErrInvalidParameters), errors.Is(err, orders.ErrPreconditionNeverSatisfiable),
		errors.Is(err, command.ErrInvalidSnapshot), errors.Is(err, formation.ErrUnknownTemplate),
		errors.Is(err, formation.ErrInsufficientShips), errors.Is(err, combat.ErrNoParticipants):
		code = http.StatusUnprocessableEntity
	}
	jsonError(w, err.Error(), code)
}
