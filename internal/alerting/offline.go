package alerting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-netops/internal/models"
)

const (
	offlineVariable = "reachability"
	offlineClass    = "device_offline"
)

// OfflineFingerprint is the dedup key of the unreachable-device alert for deviceID.
func OfflineFingerprint(deviceID string) string {
	return Fingerprint(deviceID, offlineVariable, offlineClass)
}

// DeviceOffline raises a critical device_offline alert after failures consecutive
// unreachable runs. While a non-resolved offline alert exists for the device, further
// reports only count occurrences, whatever its cooldown says.
func (e *Engine) DeviceOffline(ctx context.Context, device models.Device, failures int) (models.AlertDecision, error) {
	now := e.clock.Now()
	sig := Signal{
		Source:    models.SourceDevice,
		SourceID:  device.ID,
		DeviceID:  device.ID,
		Variable:  offlineVariable,
		Class:     offlineClass,
		Severity:  models.SeverityCritical,
		Message:   fmt.Sprintf("device %s unreachable for %d consecutive runs", device.ID, failures),
		Tags:      device.Tags,
		Timestamp: now,
	}

	e.mu.Lock()
	if a := e.latestLocked(OfflineFingerprint(device.ID)); a != nil && a.Status != models.AlertResolved {
		decision := e.mergeLocked(a, sig, now)
		a.Message = sig.Message
		decision.Alert.Message = sig.Message
		e.mu.Unlock()
		return e.finish(ctx, decision)
	}
	e.mu.Unlock()
	return e.Process(ctx, sig)
}

// DeviceRecovered auto-resolves the device's offline alert. It reports false when there
// was nothing to resolve.
func (e *Engine) DeviceRecovered(ctx context.Context, deviceID string) (models.Alert, bool, error) {
	e.mu.Lock()
	a := e.latestLocked(OfflineFingerprint(deviceID))
	var id string
	if a != nil && !a.Status.Terminal() {
		id = a.ID
	}
	e.mu.Unlock()
	if id == "" {
		return models.Alert{}, false, nil
	}
	alert, err := e.resolve(ctx, id, "system", "device reachable again", models.ResolutionAuto)
	if err != nil {
		e.logger.Warn("offline auto-resolve failed", slog.String("device_id", deviceID), slog.Any("error", err))
		return models.Alert{}, false, err
	}
	return alert, true, nil
}

func (e *Engine) latestLocked(fp string) *models.Alert {
	id, ok := e.latest[fp]
	if !ok {
		return nil
	}
	return e.alerts[id]
}
