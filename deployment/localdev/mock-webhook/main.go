package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type notification struct {
	AlertID         string    `json:"alert_id"`
	DeviceID        string    `json:"device_id"`
	Class           string    `json:"class"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	Message         string    `json:"message"`
	EscalationLevel int       `json:"escalation_level"`
	Occurrences     int       `json:"occurrences"`
	CreatedAt       time.Time `json:"created_at"`
}

type delivery struct {
	Path         string       `json:"path"`
	Channel      string       `json:"channel"`
	ContactGroup string       `json:"contact_group"`
	Notification notification `json:"notification"`
	SentAt       string       `json:"sent_at"`
	ReceivedAt   time.Time    `json:"received_at"`
}

// inbox keeps the most recent deliveries for inspection.
type inbox struct {
	mu    sync.Mutex
	items []delivery
	max   int
}

func (b *inbox) add(d delivery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, d)
	if len(b.items) > b.max {
		b.items = b.items[len(b.items)-b.max:]
	}
}

func (b *inbox) list() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.items...)
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	failEvery := flag.Int("fail-every", 0, "answer every Nth delivery with 503 to exercise retries (0 disables)")
	keep := flag.Int("keep", 200, "deliveries kept for GET /received")
	flag.Parse()

	logger := log.New(log.Writer(), "webhook-mock ", log.LstdFlags|log.Lmicroseconds)
	box := &inbox{max: *keep}
	var seen atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/received", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"deliveries": box.list()})
	})

	mux.HandleFunc("/hooks/", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		n := seen.Add(1)
		if *failEvery > 0 && n%int64(*failEvery) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var d delivery
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		d.Path = strings.TrimPrefix(r.URL.Path, "/hooks/")
		d.ReceivedAt = time.Now().UTC()
		box.add(d)
		logger.Printf("alert=%s device=%s severity=%s status=%s level=%d group=%s: %s",
			d.Notification.AlertID, d.Notification.DeviceID, d.Notification.Severity,
			d.Notification.Status, d.Notification.EscalationLevel, d.ContactGroup, d.Notification.Message)
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
