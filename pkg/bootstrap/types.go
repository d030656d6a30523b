// Package bootstrap loads seed registrations applied to the broker at startup.
package bootstrap

// SeedNode is one statically known node. It is registered through the same
// path as a live registration, once per listed type.
type SeedNode struct {
	ClientName        string   `json:"clientName"`
	CallbackHost      string   `json:"callbackHost"`
	CallbackPort      int      `json:"callbackPort"`
	AgentVersion      string   `json:"agentVersion,omitempty"`
	RequestTypes      []string `json:"requestTypes,omitempty"`
	NotificationTypes []string `json:"notificationTypes,omitempty"`
}

// SeedConfig is the root of a seed file.
type SeedConfig struct {
	Name        string     `json:"name,omitempty"`
	Version     string     `json:"version,omitempty"`
	Description string     `json:"description,omitempty"`
	Nodes       []SeedNode `json:"nodes"`
}
