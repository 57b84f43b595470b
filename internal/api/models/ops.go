package models

// Health represents the health status of the service.
type Health struct {
	Status     HealthStatus           `json:"status"`
	Time       Timestamp              `json:"time"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Subsystems []SubsystemStatus      `json:"subsystems,omitempty"`
}

// SubsystemStatus represents the status of a dependency.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}
