package cli

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/observability"
)

func useAlerts(t *testing.T, engine observability.AlertEngine, notifier observability.Notifier) {
	t.Helper()
	origEngine, origNotifier := AlertEngine, Notifier
	t.Cleanup(func() {
		AlertEngine = origEngine
		Notifier = origNotifier
	})
	AlertEngine = engine
	Notifier = notifier
}

func sampleAlerts() []observability.Alert {
	return []observability.Alert{
		{ID: "blocked-3", Severity: observability.SeverityHigh, Message: "task 3 blocked for 30h", TriggeredAt: time.Now().UTC()},
		{ID: "sync-4", Severity: observability.SeverityHigh, Message: "ticket sync for 4 failed 3 times in a row", TriggeredAt: time.Now().UTC()},
	}
}

func TestAlertsCmd_NilEngine(t *testing.T) {
	useAlerts(t, nil, nil)

	_, err := run(t, alertsCmd, nil)
	if err == nil {
		t.Fatal("expected error when AlertEngine is nil")
	}
	if !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAlertsCmd_NoAlerts(t *testing.T) {
	useAlerts(t, &alertsMock{}, nil)

	out, err := run(t, alertsCmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No active alerts.") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsCmd_WithAlerts(t *testing.T) {
	useAlerts(t, &alertsMock{alerts: sampleAlerts()}, nil)

	out, err := run(t, alertsCmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "2 active alert(s)") || !strings.Contains(out, "[HIGH] task 3 blocked") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsCmd_EvaluateError(t *testing.T) {
	useAlerts(t, &alertsMock{err: errors.New("event log unreadable")}, nil)

	_, err := run(t, alertsCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "evaluating alerts") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAlertsCmd_Notify(t *testing.T) {
	notifier := &notifierMock{}
	useAlerts(t, &alertsMock{alerts: sampleAlerts()}, notifier)

	out, err := run(t, alertsCmd, map[string]string{"notify": "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.sent) != 1 || len(notifier.sent[0]) != 2 {
		t.Fatalf("notifications = %+v", notifier.sent)
	}
	if !strings.Contains(out, "Sent 2 alert(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestAlertsCmd_NotifyWithoutNotifier(t *testing.T) {
	useAlerts(t, &alertsMock{alerts: sampleAlerts()}, nil)

	_, err := run(t, alertsCmd, map[string]string{"notify": "true"})
	if err == nil || !strings.Contains(err.Error(), "slack_webhook_url") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAlertsCmd_NotifySkippedWhenNoAlerts(t *testing.T) {
	notifier := &notifierMock{}
	useAlerts(t, &alertsMock{}, notifier)

	if _, err := run(t, alertsCmd, map[string]string{"notify": "true"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("nothing should be sent, got %d notifications", len(notifier.sent))
	}
}

func TestAlertsCmd_NotifyError(t *testing.T) {
	useAlerts(t, &alertsMock{alerts: sampleAlerts()}, &notifierMock{err: errors.New("webhook returned 500")})

	_, err := run(t, alertsCmd, map[string]string{"notify": "true"})
	if err == nil || !strings.Contains(err.Error(), "sending alert notification") {
		t.Errorf("unexpected error: %v", err)
	}
}
