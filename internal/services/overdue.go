package services

import (
	"context"
	"fmt"
	"html"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sicet-backend-go/internal/models"
)

const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"

	overdueLockKey = "overdue-alerts"
)

type OverdueDetail struct {
	TodolistID string `json:"todolistId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

type OverdueResult struct {
	Processed int             `json:"processed"`
	Expired   int             `json:"expired"`
	Sent      int             `json:"sent"`
	Skipped   int             `json:"skipped"`
	Errors    int             `json:"errors"`
	Details   []OverdueDetail `json:"details"`
}

// OverdueProcessor scans open todolists and notifies each expired one at most
// once. Per-item failures are counted, never returned.
type OverdueProcessor struct {
	Store       OverdueStore
	Mailer      Mailer
	Locker      Locker
	Clock       Clock
	Logger      *zap.Logger
	Fallback    []string
	Workers     int
	ItemTimeout time.Duration
	LockTTL     time.Duration
	BaseURL     string
}

func (p *OverdueProcessor) Run(ctx context.Context) (OverdueResult, error) {
	if p.Locker != nil {
		release, acquired, err := p.Locker.Acquire(ctx, overdueLockKey, p.lockTTL())
		if err != nil {
			return OverdueResult{}, WrapError(err, "acquire overdue lock")
		}
		if !acquired {
			return OverdueResult{}, ErrConflict("Overdue alert run already in progress")
		}
		defer release()
	}

	now := p.Clock.Current()
	// A window never closes before the start of its scheduled day.
	candidates, err := p.Store.OpenTodolists(ctx, now.Add(24*time.Hour))
	if err != nil {
		return OverdueResult{}, WrapError(err, "load open todolists")
	}

	result := OverdueResult{Processed: len(candidates), Details: []OverdueDetail{}}
	var mu sync.Mutex
	record := func(detail OverdueDetail) {
		mu.Lock()
		defer mu.Unlock()
		switch detail.Outcome {
		case OutcomeSent:
			result.Sent++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Errors++
		}
		result.Details = append(result.Details, detail)
	}

	var g errgroup.Group
	g.SetLimit(p.workers())
	for _, candidate := range candidates {
		candidate := candidate
		if !p.Clock.Overdue(candidate.Todolist, now) {
			continue
		}
		result.Expired++
		g.Go(func() error {
			record(p.notify(ctx, candidate, now))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Details, func(i, j int) bool {
		return result.Details[i].TodolistID < result.Details[j].TodolistID
	})
	p.Logger.Info("overdue alert run finished",
		zap.Int("processed", result.Processed),
		zap.Int("expired", result.Expired),
		zap.Int("sent", result.Sent),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

func (p *OverdueProcessor) notify(parent context.Context, candidate OverdueCandidate, now time.Time) OverdueDetail {
	detail := OverdueDetail{
		TodolistID: candidate.ID,
		DeviceID:   candidate.DeviceID,
		DeviceName: candidate.DeviceName,
	}
	logger := p.Logger.With(zap.String("todolist_id", candidate.ID), zap.String("device_id", candidate.DeviceID))
	ctx, cancel := context.WithTimeout(parent, p.itemTimeout())
	defer cancel()

	recipients, err := p.Store.Recipients(ctx, models.ScopeTodolist, candidate.DeviceID)
	if err != nil {
		logger.Error("recipient lookup failed", zap.Error(err))
		detail.Outcome, detail.Error = OutcomeFailed, err.Error()
		return detail
	}
	if len(recipients) == 0 {
		recipients = p.Fallback
	}
	if len(recipients) == 0 {
		detail.Outcome, detail.Error = OutcomeSkipped, "no recipients configured"
		return detail
	}

	claimID, claimed, err := p.Store.ClaimTodolistAlert(ctx, candidate.ID, candidate.DeviceID, recipients, now.UTC())
	if err != nil {
		logger.Error("alert claim failed", zap.Error(err))
		detail.Outcome, detail.Error = OutcomeFailed, err.Error()
		return detail
	}
	if !claimed {
		detail.Outcome = OutcomeSkipped
		return detail
	}

	if err := p.Mailer.Send(ctx, p.overdueEmail(candidate, recipients)); err != nil {
		logger.Warn("overdue alert send failed", zap.Error(err))
		detail.Outcome, detail.Error = OutcomeFailed, err.Error()
		// Outcome writes use the parent context so a timed-out send is still recorded.
		if markErr := p.Store.MarkTodolistAlertFailed(parent, claimID, truncate(err.Error(), 500)); markErr != nil {
			logger.Error("alert outcome not recorded", zap.String("claim_id", claimID), zap.Error(markErr))
		}
		return detail
	}
	detail.Outcome = OutcomeSent
	if err := p.Store.MarkTodolistAlertSent(parent, claimID, p.Clock.Current().UTC()); err != nil {
		// The claim row stays pending, which already blocks a resend.
		logger.Error("alert sent but outcome not recorded", zap.String("claim_id", claimID), zap.Error(err))
	}
	logger.Info("overdue alert sent", zap.Strings("recipients", recipients))
	return detail
}

func (p *OverdueProcessor) overdueEmail(candidate OverdueCandidate, recipients []string) Email {
	scheduled := candidate.ScheduledExecution.In(p.Clock.loc())
	deadline := WindowEnd(scheduled, SlotOf(candidate.Todolist))
	subject := fmt.Sprintf("Todolist scaduta: %s", candidate.DeviceName)
	text := fmt.Sprintf(
		"La todolist del punto di controllo %s (%s) programmata per il %s non è stata completata entro %s.\nStato: %s\n%s/todolist/%s",
		candidate.DeviceName, candidate.DeviceID,
		scheduled.Format("02/01/2006 15:04"), deadline.Format("02/01/2006 15:04"),
		candidate.Status, p.BaseURL, candidate.ID,
	)
	body := fmt.Sprintf(
		"<p>La todolist del punto di controllo <strong>%s</strong> (%s) programmata per il %s non è stata completata entro %s.</p><p>Stato: %s</p><p><a href=\"%s/todolist/%s\">Apri la todolist</a></p>",
		html.EscapeString(candidate.DeviceName), html.EscapeString(candidate.DeviceID),
		scheduled.Format("02/01/2006 15:04"), deadline.Format("02/01/2006 15:04"),
		html.EscapeString(candidate.Status), html.EscapeString(p.BaseURL), html.EscapeString(candidate.ID),
	)
	return Email{To: recipients, Subject: subject, Text: text, HTML: body}
}

func (p *OverdueProcessor) workers() int {
	if p.Workers < 1 {
		return 1
	}
	return p.Workers
}

func (p *OverdueProcessor) itemTimeout() time.Duration {
	if p.ItemTimeout <= 0 {
		return 15 * time.Second
	}
	return p.ItemTimeout
}

func (p *OverdueProcessor) lockTTL() time.Duration {
	if p.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return p.LockTTL
}

// truncate cuts value to at most max bytes without splitting a rune.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	for max > 0 && !utf8.RuneStart(value[max]) {
		max--
	}
	return value[:max]
}
