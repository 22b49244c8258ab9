package models

// EndpointStatus reports the serving state of an agent endpoint.
type EndpointStatus string

const (
	StatusOnline       EndpointStatus = "ONLINE"
	StatusOffline      EndpointStatus = "OFFLINE"
	StatusProvisioning EndpointStatus = "PROVISIONING"
	StatusUnknown      EndpointStatus = "UNKNOWN"
	StatusError        EndpointStatus = "ERROR"
)

// AgentTool describes one tool available to an agent, enriched with the
// data sources it reaches.
type AgentTool struct {
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Endpoint    string   `json:"endpoint,omitempty"`
	Tables      []string `json:"tables,omitempty"`
}

// AgentDescriptor is the resolved metadata for one agent endpoint: display
// info plus the tool list. Fetched from the workspace catalog and cached.
type AgentDescriptor struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	EndpointName string         `json:"endpoint_name"`
	Description  string         `json:"description,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Status       EndpointStatus `json:"status"`
	Tools        []AgentTool    `json:"tools"`
}
