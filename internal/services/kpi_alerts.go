package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sicet-backend-go/internal/models"
)

// KPIAlertNotifier mails the KPI violations recorded by task completions.
// Delivery runs in the background after the task transaction commits.
type KPIAlertNotifier struct {
	Store    KPIAlertStore
	Mailer   Mailer
	Logger   *zap.Logger
	Fallback []string
	Timeout  time.Duration

	wg sync.WaitGroup
}

func NewKPIAlertNotifier(store KPIAlertStore, mailer Mailer, fallback []string, timeout time.Duration, logger *zap.Logger) *KPIAlertNotifier {
	return &KPIAlertNotifier{Store: store, Mailer: mailer, Fallback: fallback, Timeout: timeout, Logger: logger.Named("kpi_alerts")}
}

func (n *KPIAlertNotifier) Notify(ctx context.Context, alertIDs []string) {
	ids := append([]string(nil), alertIDs...)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout())
		defer cancel()
		n.Deliver(deliverCtx, ids)
	}()
}

// Wait blocks until background deliveries have finished.
func (n *KPIAlertNotifier) Wait() {
	n.wg.Wait()
}

// Deliver sends one email per KPI and records the outcome on every row.
func (n *KPIAlertNotifier) Deliver(ctx context.Context, alertIDs []string) {
	alerts, err := n.Store.PendingKPIAlerts(ctx, alertIDs)
	if err != nil {
		n.Logger.Error("load kpi alerts failed", zap.Error(err))
		return
	}
	byKPI := map[string][]PendingKPIAlert{}
	order := []string{}
	for _, alert := range alerts {
		if _, ok := byKPI[alert.KPIID]; !ok {
			order = append(order, alert.KPIID)
		}
		byKPI[alert.KPIID] = append(byKPI[alert.KPIID], alert)
	}
	for _, kpiID := range order {
		group := byKPI[kpiID]
		ids := make([]string, 0, len(group))
		for _, alert := range group {
			ids = append(ids, alert.ID)
		}
		logger := n.Logger.With(zap.String("kpi_id", kpiID), zap.Int("alerts", len(ids)))

		recipients, err := n.Store.Recipients(ctx, models.ScopeKPI, kpiID)
		if err != nil {
			logger.Error("recipient lookup failed", zap.Error(err))
			continue
		}
		if len(recipients) == 0 {
			recipients = n.Fallback
		}
		if len(recipients) == 0 {
			logger.Warn("no recipients for kpi alert")
			n.mark(ctx, logger, ids, models.AlertFailed, nil, "no recipients configured")
			continue
		}
		if err := n.Mailer.Send(ctx, kpiAlertEmail(group, recipients)); err != nil {
			logger.Warn("kpi alert send failed", zap.Error(err))
			n.mark(ctx, logger, ids, models.AlertFailed, recipients, truncate(err.Error(), 500))
			continue
		}
		n.mark(ctx, logger, ids, models.AlertSent, recipients, "")
		logger.Info("kpi alert sent", zap.Strings("recipients", recipients))
	}
}

func (n *KPIAlertNotifier) mark(ctx context.Context, logger *zap.Logger, ids []string, status string, recipients []string, message string) {
	if err := n.Store.MarkKPIAlerts(ctx, ids, status, recipients, time.Now().UTC(), message); err != nil {
		logger.Error("kpi alert outcome not recorded", zap.String("status", status), zap.Error(err))
	}
}

func (n *KPIAlertNotifier) timeout() time.Duration {
	if n.Timeout <= 0 {
		return 30 * time.Second
	}
	return n.Timeout
}

func kpiAlertEmail(group []PendingKPIAlert, recipients []string) Email {
	first := group[0]
	var text, body strings.Builder
	fmt.Fprintf(&text, "Controllo %s su %s (%s): valori fuori soglia.\n", first.KPIName, first.DeviceName, first.DeviceID)
	fmt.Fprintf(&body, "<p>Controllo <strong>%s</strong> su %s (%s): valori fuori soglia.</p><ul>",
		html.EscapeString(first.KPIName), html.EscapeString(first.DeviceName), html.EscapeString(first.DeviceID))
	for _, alert := range group {
		fmt.Fprintf(&text, "- %s: %s\n", alert.Field, alert.Message)
		fmt.Fprintf(&body, "<li>%s: %s</li>", html.EscapeString(alert.Field), html.EscapeString(alert.Message))
	}
	body.WriteString("</ul>")
	return Email{
		To:      recipients,
		Subject: fmt.Sprintf("Allarme controllo %s - %s", first.KPIName, first.DeviceName),
		Text:    text.String(),
		HTML:    body.String(),
	}
}
