package db

import "time"

// NodeRegistrationRow represents a row in the node_registrations table.
type NodeRegistrationRow struct {
	ID                string    `json:"id"`
	Address           string    `json:"address"`
	ClientName        string    `json:"client_name"`
	Kind              string    `json:"kind"`
	TypeName          string    `json:"type_name"`
	ResponseTypeName  *string   `json:"response_type_name,omitempty"`
	AgentVersion      *string   `json:"agent_version,omitempty"`
	RegistrationCount int64     `json:"registration_count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
}

// RecordRegistrationParams holds parameters for RecordRegistration.
type RecordRegistrationParams struct {
	Address          string
	ClientName       string
	Kind             string
	TypeName         string
	ResponseTypeName string
	AgentVersion     string
	SeenAt           time.Time
}

// ListRegistrationsParams holds filters for ListRegistrations. Empty fields do not filter.
type ListRegistrationsParams struct {
	TypeName string
	Address  string
	Limit    int
}
