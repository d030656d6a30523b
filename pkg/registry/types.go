// Package registry holds the broker's node registry and its routing index.
package registry

import (
	"net"
	"time"

	"github.com/morezero/mediator-broker/pkg/envelope"
)

// Register actions.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionUnchanged = "unchanged"
)

// RegisterInput holds parameters for Register.
type RegisterInput struct {
	Kind         envelope.Kind
	Registration envelope.Registration
	// Source is the datagram origin, used when the callback host or port is unspecified.
	Source *net.UDPAddr
}

// RegisterOutput holds the result of Register.
type RegisterOutput struct {
	Action   string        `json:"action"`
	Address  string        `json:"address"`
	Kind     envelope.Kind `json:"kind"`
	TypeName string        `json:"typeName"`
}

// NodeRegistration is a snapshot of one registered node.
type NodeRegistration struct {
	ClientName        string    `json:"clientName"`
	Address           string    `json:"address"`
	AgentVersion      string    `json:"agentVersion,omitempty"`
	RequestTypes      []string  `json:"requestTypes"`
	NotificationTypes []string  `json:"notificationTypes"`
	FirstSeen         time.Time `json:"firstSeen"`
	LastSeen          time.Time `json:"lastSeen"`
}

// Endpoint is where forwarded traffic for a node is sent.
type Endpoint struct {
	ClientName string       `json:"clientName"`
	Address    string       `json:"address"`
	Addr       *net.UDPAddr `json:"-"`
}

// TypeRoutes lists the nodes indexed under one type, in selection order.
type TypeRoutes struct {
	TypeName string        `json:"typeName"`
	Kind     envelope.Kind `json:"kind"`
	Nodes    []string      `json:"nodes"`
}

// StatsOutput holds registry counters.
type StatsOutput struct {
	Nodes             int    `json:"nodes"`
	RequestTypes      int    `json:"requestTypes"`
	NotificationTypes int    `json:"notificationTypes"`
	Registrations     uint64 `json:"registrations"`
}

// HealthOutput holds the result of the health method.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Stats     StatsOutput  `json:"stats"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks holds individual health check results.
type HealthChecks struct {
	LedgerConfigured bool `json:"ledgerConfigured"`
	Ledger           bool `json:"ledger"`
}
