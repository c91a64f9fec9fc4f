// Package metrics - Prometheus-коллекторы сервиса, отдаются через /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FanoutEvents считает обработанные события outbox по итогу: done, retry, failed.
	FanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communities_fanout_events_total",
		Help: "Fan-out outbox events processed by outcome",
	}, []string{"outcome"})

	// NotificationsWritten считает созданные уведомления по источнику: fanout, comment.
	NotificationsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communities_notifications_written_total",
		Help: "Notifications written by source",
	}, []string{"source"})

	// FanoutDuration - длительность рассылки одного события.
	FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "communities_fanout_duration_seconds",
		Help:    "Time spent fanning out one event",
		Buckets: prometheus.DefBuckets,
	})

	// Votes считает переходы голосов: up, down, switch, retract.
	Votes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communities_vote_transitions_total",
		Help: "Vote ledger transitions by kind",
	}, []string{"transition"})

	// VoteRetries считает повторы CAS при гонке голосов.
	VoteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "communities_vote_retries_total",
		Help: "Optimistic vote retries caused by concurrent writers",
	})

	// CascadeFailures считает неудачные удаления зависимых документов.
	CascadeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "communities_cascade_failures_total",
		Help: "Dependent documents that could not be removed during cascade delete",
	}, []string{"collection"})

	// HTTPRequests - длительность HTTP-запросов по маршруту, методу и коду.
	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "communities_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	// WebSocketSubscribers - активные websocket-подписки на уведомления.
	WebSocketSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "communities_ws_subscribers",
		Help: "Active websocket notification subscriptions",
	})
)

// ObserveHTTP записывает длительность запроса.
func ObserveHTTP(route, method string, status int, started time.Time) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Observe(time.Since(started).Seconds())
}
