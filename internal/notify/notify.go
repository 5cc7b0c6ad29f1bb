package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// Channel delivers a notification over one transport.
type Channel interface {
	Send(ctx context.Context, contactGroup, channel string, payload models.Notification) (bool, error)
}

// ErrUnknownChannel is returned for channel names with no registered transport.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Mux dispatches notifications to the transport registered for the channel name.
type Mux struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{channels: make(map[string]Channel)}
}

// Register binds a channel name to a transport.
func (m *Mux) Register(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

// Channels lists registered channel names.
func (m *Mux) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Send implements the alerting notifier contract.
func (m *Mux) Send(ctx context.Context, contactGroup, channel string, payload models.Notification) (bool, error) {
	m.mu.RLock()
	ch, ok := m.channels[channel]
	m.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return ch.Send(ctx, contactGroup, channel, payload)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send implements Channel.
func (n *LogNotifier) Send(_ context.Context, contactGroup, _ string, payload models.Notification) (bool, error) {
	n.logger.Info("alert notification",
		slog.String("alert_id", payload.AlertID),
		slog.String("contact_group", contactGroup),
		slog.String("device_id", payload.DeviceID),
		slog.String("variable", payload.Variable),
		slog.String("severity", string(payload.Severity)),
		slog.String("status", string(payload.Status)),
		slog.Int("escalation_level", payload.EscalationLevel),
		slog.Int("occurrences", payload.Occurrences),
		slog.String("message", payload.Message))
	return true, nil
}
