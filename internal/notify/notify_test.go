package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/mirador-netops/internal/models"
)

func sampleNotification() models.Notification {
	return models.Notification{
		AlertID:      "ALR-1",
		DeviceID:     "r1",
		Variable:     "cpu_usage",
		Severity:     models.SeverityCritical,
		Status:       models.AlertOpen,
		ContactGroup: "noc",
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got webhookBody
	hits := 0
	n := NewWebhookNotifier(map[string]string{"noc": "https://hooks.example.com/noc"}, time.Second)
	n.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.Method != http.MethodPost || req.URL.Path != "/noc" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL)
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return &http.Response{StatusCode: http.StatusAccepted, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
	}))

	ok, err := n.Send(context.Background(), "noc", "webhook", sampleNotification())
	if err != nil || !ok {
		t.Fatalf("expected delivery, got %v %v", ok, err)
	}
	if hits != 1 {
		t.Fatalf("expected one request, got %d", hits)
	}
	if got.ContactGroup != "noc" || got.Notification.AlertID != "ALR-1" || got.Channel != "webhook" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestWebhookFallbackAndErrors(t *testing.T) {
	n := NewWebhookNotifier(map[string]string{"*": "https://hooks.example.com/all"}, time.Second)
	n.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/all" {
			t.Fatalf("expected fallback endpoint, got %s", req.URL.Path)
		}
		return &http.Response{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway", Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
	}))

	ok, err := n.Send(context.Background(), "oncall", "webhook", sampleNotification())
	if ok || err == nil {
		t.Fatalf("expected failure on 502, got %v %v", ok, err)
	}

	empty := NewWebhookNotifier(nil, time.Second)
	if _, err := empty.Send(context.Background(), "noc", "webhook", sampleNotification()); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

type recordingChannel struct {
	calls []string
}

func (r *recordingChannel) Send(_ context.Context, group, channel string, _ models.Notification) (bool, error) {
	r.calls = append(r.calls, group+"/"+channel)
	return true, nil
}

func TestMuxDispatchesByChannel(t *testing.T) {
	mux := NewMux()
	rec := &recordingChannel{}
	mux.Register("webhook", rec)
	mux.Register("log", NewLogNotifier(nil))

	if ok, err := mux.Send(context.Background(), "noc", "webhook", sampleNotification()); !ok || err != nil {
		t.Fatalf("webhook dispatch failed: %v %v", ok, err)
	}
	if ok, err := mux.Send(context.Background(), "noc", "log", sampleNotification()); !ok || err != nil {
		t.Fatalf("log dispatch failed: %v %v", ok, err)
	}
	if _, err := mux.Send(context.Background(), "noc", "pager", sampleNotification()); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected unknown channel, got %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "noc/webhook" {
		t.Fatalf("unexpected calls %v", rec.calls)
	}
	if got := mux.Channels(); len(got) != 2 || got[0] != "log" {
		t.Fatalf("unexpected channels %v", got)
	}
}
