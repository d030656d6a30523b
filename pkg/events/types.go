// Package events defines broker event types and the publishers that emit them.
package events

// NodeRegisteredEvent is emitted when a registration changes the routing index.
type NodeRegisteredEvent struct {
	ClientName   string `json:"clientName"`
	Address      string `json:"address"`
	Kind         string `json:"kind"`
	TypeName     string `json:"typeName"`
	Action       string `json:"action"`
	AgentVersion string `json:"agentVersion,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// CallTimedOutEvent is emitted when a forwarded Request expires without a Response.
type CallTimedOutEvent struct {
	ID        string `json:"id"`
	TypeName  string `json:"typeName"`
	Target    string `json:"target"`
	Caller    string `json:"caller"`
	IssuedAt  string `json:"issuedAt"`
	Timestamp string `json:"timestamp"`
}
