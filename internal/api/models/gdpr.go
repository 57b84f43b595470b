package models

// ExportRequestStatus represents the status of an export request.
type ExportRequestStatus string

const (
	ExportStatusPending ExportRequestStatus = "PENDING"
	ExportStatusRunning ExportRequestStatus = "RUNNING"
	ExportStatusReady   ExportRequestStatus = "READY"
	ExportStatusFailed  ExportRequestStatus = "FAILED"
)

// ExportRequest represents a GDPR data export request.
type ExportRequest struct {
	ID                string              `json:"id"`
	Status            ExportRequestStatus `json:"status"`
	Services          []string            `json:"services"`
	CompletedServices []string            `json:"completedServices"`
	CreatedAt         Timestamp           `json:"createdAt"`
	UpdatedAt         Timestamp           `json:"updatedAt"`
	CompletedAt       *Timestamp          `json:"completedAt,omitempty"`
	DownloadURL       *string             `json:"downloadUrl,omitempty"`
	ExpiresAt         *Timestamp          `json:"expiresAt,omitempty"`
}

// PagedExportRequests represents a paginated list of export requests.
type PagedExportRequests struct {
	Items []ExportRequest   `json:"items"`
	Meta  PagedResponseMeta `json:"meta"`
}
