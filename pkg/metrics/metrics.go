// Package metrics declares the Prometheus collectors of the broker and agents.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Broker collectors.
var (
	BrokerDatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_datagrams_total",
		Help: "Cumulative number of datagrams received, by envelope kind.",
	}, []string{"kind"})
	BrokerMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_malformed_total",
		Help: "Cumulative number of datagrams dropped because they could not be decoded.",
	})
	BrokerRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_registrations_total",
		Help: "Cumulative number of registrations, by resulting action.",
	}, []string{"action"})
	BrokerForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_forwarded_total",
		Help: "Cumulative number of Requests forwarded to a node, by status.",
	}, []string{"status"})
	BrokerRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_relayed_total",
		Help: "Cumulative number of Responses relayed to a caller, by status.",
	}, []string{"status"})
	BrokerUnknownResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_unknown_responses_total",
		Help: "Cumulative number of Responses dropped for an unknown or resolved id.",
	})
	BrokerNoHandlerTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_no_handler_total",
		Help: "Cumulative number of Requests answered with NO_HANDLER_REGISTERED.",
	})
	BrokerTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_timeouts_total",
		Help: "Cumulative number of pending calls that expired.",
	})
	BrokerNotificationSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_notification_sends_total",
		Help: "Cumulative number of Notification fan-out sends, by status.",
	}, []string{"status"})
	BrokerPendingCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_pending_calls",
		Help: "Number of Requests awaiting a Response.",
	})
	BrokerForwardLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_forward_latency_seconds",
		Help:    "Time from forwarding a Request to relaying its Response.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
)

// Agent collectors.
var (
	AgentInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_invocations_total",
		Help: "Cumulative number of local handler invocations, by kind and status.",
	}, []string{"kind", "status"})
	AgentDuplicateRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_duplicate_requests_total",
		Help: "Cumulative number of retransmitted Requests answered from the reply cache.",
	})
	AgentRegistrationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_registrations_sent_total",
		Help: "Cumulative number of registration envelopes sent, by status.",
	}, []string{"status"})
	AgentCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_calls_total",
		Help: "Cumulative number of outbound Requests, by status.",
	}, []string{"status"})
)
