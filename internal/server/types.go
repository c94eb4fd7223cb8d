// Package server provides the HTTP server for the PanoStitch API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// ArchiveRequest is the HTTP request body for a resize+archive request.
type ArchiveRequest struct {
	// Preset is the target resolution of every archived clip.
	Preset string `json:"preset" validate:"required,oneof=2880x540 1920x360"`
	// PushToS3 uploads the archive to S3 and returns its URL instead of the zip.
	PushToS3 bool `json:"push_to_s3"`
}

// BatchResponse is the HTTP response describing a batch.
type BatchResponse struct {
	// ID is the unique identifier for the batch.
	ID string `json:"id"`
	// Status is the current batch status.
	Status string `json:"status"`
	// Error contains a batch-level error message, if any.
	Error string `json:"error,omitempty"`
	// Clips lists every uploaded clip in upload order.
	Clips []ClipResponse `json:"clips"`
	// Archives lists the archives built so far.
	Archives []ArchiveSummary `json:"archives,omitempty"`
	// CreatedAt is when the batch was uploaded.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the batch last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// ClipResponse describes one clip of a batch.
type ClipResponse struct {
	// Index is the zero-based position of the clip.
	Index int `json:"index"`
	// Name is the uploaded file name.
	Name string `json:"name"`
	// Stage is the furthest completed step.
	Stage string `json:"stage"`
	// FailedStage names the pipeline stage that failed.
	FailedStage string `json:"failed_stage,omitempty"`
	// Error is the failure message of the last run.
	Error string `json:"error,omitempty"`
	// DownloadURL is the path of the converted video once available.
	DownloadURL string `json:"download_url,omitempty"`
}

// ArchiveSummary describes a previously built archive.
type ArchiveSummary struct {
	Preset  string `json:"preset"`
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Failed  []int  `json:"failed,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ArchiveResponse is returned when an archive was pushed to S3.
type ArchiveResponse struct {
	// Name is the archive file name.
	Name string `json:"name"`
	// URL is the S3 object URL.
	URL string `json:"url"`
	// Entries lists the file names stored in the archive.
	Entries []string `json:"entries"`
	// Failed lists the clips that were left out.
	Failed []FailedClip `json:"failed,omitempty"`
}

// FailedClip describes a clip excluded from an archive.
type FailedClip struct {
	Index int    `json:"index"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Failed lists per-clip failures, when the error concerns individual clips.
	Failed []FailedClip `json:"failed,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
