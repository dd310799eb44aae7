// Package alerting watches pipeline health over a trailing window and
// notifies a sink when a metric crosses its thresholds.
package alerting

import (
	"fmt"
	"time"
)

type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Metric names, also the keys of alerting.thresholds in configuration.
const (
	MetricWebhookErrorRate = "webhook_error_rate"
	MetricSyncErrorRate    = "sync_error_rate"
	MetricQueueDepth       = "queue_depth"
	MetricExternalErrors   = "external_errors"
)

type Threshold struct {
	Warning  float64
	Critical float64
}

// Level returns the level value reaches. A zero bound is disabled.
func (t Threshold) Level(value float64) Level {
	switch {
	case t.Critical > 0 && value >= t.Critical:
		return LevelCritical
	case t.Warning > 0 && value >= t.Warning:
		return LevelWarning
	default:
		return LevelOK
	}
}

func (t Threshold) bound(l Level) float64 {
	if l == LevelCritical {
		return t.Critical
	}
	return t.Warning
}

type Alert struct {
	ID        string  `json:"id"`
	Metric    string  `json:"metric"`
	Subject   string  `json:"subject,omitempty"`
	Level     Level   `json:"level"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Window    string  `json:"window"`
	Message   string  `json:"message"`
	FiredAt   int64   `json:"fired_at"`
}

// Key identifies the alert stream for suppression: one per metric and subject.
func (a Alert) Key() string {
	if a.Subject == "" {
		return a.Metric
	}
	return a.Metric + ":" + a.Subject
}

func describe(metric, subject string, value float64, window time.Duration) string {
	switch metric {
	case MetricWebhookErrorRate:
		return fmt.Sprintf("%.1f%% of webhook events failed in the last %s", value*100, window)
	case MetricSyncErrorRate:
		return fmt.Sprintf("%.1f%% of sync runs failed in the last %s", value*100, window)
	case MetricQueueDepth:
		return fmt.Sprintf("%d events waiting to be processed", int(value))
	case MetricExternalErrors:
		return fmt.Sprintf("%d failed writes to %s in the last %s", int(value), subject, window)
	default:
		return fmt.Sprintf("%s = %g", metric, value)
	}
}
