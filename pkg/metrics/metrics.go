// Package metrics defines the Prometheus metrics exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pop3_connections_total",
			Help: "Total number of POP3 connections accepted",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3_connections_current",
			Help: "Current number of active POP3 connections",
		},
	)

	AuthenticatedConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3_authenticated_connections_current",
			Help: "Current number of authenticated POP3 connections",
		},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)
)

// Protocol metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3_commands_total",
			Help: "Total number of POP3 commands processed",
		},
		[]string{"command", "result"},
	)
)

// Mailbox metrics
var (
	MailboxMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3_mailbox_messages",
			Help: "Number of messages currently stored in the mailbox, including staged deletions",
		},
	)

	MailboxSyncsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pop3_mailbox_syncs_total",
			Help: "Total number of mailbox sync (commit) operations",
		},
	)
)
