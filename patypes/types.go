// Package patypes provides shared type definitions for the PolyAnalyst client module.
package patypes

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// NodeStatus represents the execution status of a project node.
type NodeStatus string

// Node statuses reported by the server.
const (
	// NodeStatusSynchronized means the node completed execution successfully
	NodeStatusSynchronized NodeStatus = "synchronized"

	// NodeStatusUnsynchronized means the node has pending changes and needs execution
	NodeStatusUnsynchronized NodeStatus = "unsynchronized"

	// NodeStatusIncomplete means the node execution stopped before completion
	NodeStatusIncomplete NodeStatus = "incomplete"

	// NodeStatusEmpty means the node has produced no data yet
	NodeStatusEmpty NodeStatus = "empty"
)

// Node describes a single node of a project wireframe.
type Node struct {
	// ID is the server-assigned object id of the node
	ID int `json:"id"`

	// Name is the node name as shown in the project
	Name string `json:"name"`

	// Type is the node type (e.g. "DataSource", "Dataset")
	Type string `json:"type"`

	// Status is the current execution status
	Status NodeStatus `json:"status"`

	// ErrMsg carries the error message of the last failed execution, if any
	ErrMsg string `json:"errMsg,omitempty"`
}

// NodeRef identifies a node by name and, when names are ambiguous, by type.
// An empty Type matches a node of any type with the given name.
type NodeRef struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Task describes a scheduler task attached to a project.
type Task struct {
	// ID is the task identifier
	ID int64

	// Name is the task display name
	Name string

	// StartTime is when the task was started
	StartTime time.Time
}

// ColumnInfo describes a single dataset column.
type ColumnInfo struct {
	// ID is the column index used by the values and cell-text endpoints
	ID int `json:"id"`

	// Title is the column display title
	Title string `json:"title"`

	// Type is the column data type (e.g. "String", "Integer", "DateTime")
	Type string `json:"type"`

	// Flags carries server-side column flags; the "getTextAlways" flag marks
	// columns whose full text must be fetched cell by cell
	Flags map[string]bool `json:"flags"`
}

// DatasetInfo contains information about a dataset wrapper.
type DatasetInfo struct {
	// RowCount is the total number of rows in the dataset
	RowCount int `json:"rowCount"`

	// Columns describes the dataset columns
	Columns []ColumnInfo `json:"columnsInfo"`
}

// DatasetProgress reports the state of a dataset that is still being prepared
// on the server.
type DatasetProgress struct {
	// Progress is the preparation progress in percent
	Progress int `json:"progress"`

	// Message is the server's progress message, if any
	Message string `json:"message"`
}

// Row is a single dataset row keyed by column title.
type Row map[string]any

// OffsetUnknown is a sentinel value for Transfer.Offset meaning that the
// committed remote offset has not been determined yet and must be queried
// before sending data.
const OffsetUnknown int64 = -1

// Transfer represents one in-progress resumable upload on the server.
type Transfer struct {
	// Location is the server-assigned transfer URL returned on creation.
	// Retaining it is sufficient to resume the transfer after a restart.
	Location string

	// Size is the total upload size in bytes
	Size int64

	// Offset is the last committed offset acknowledged by the server.
	// It never decreases and never exceeds Size.
	Offset int64

	// Metadata is the metadata assigned to the upload at creation
	Metadata map[string]string
}

// Complete reports whether every byte of the transfer has been acknowledged.
func (t *Transfer) Complete() bool {
	return t.Offset >= 0 && t.Offset == t.Size
}

// UploadResult contains the result of a completed upload operation.
type UploadResult struct {
	// Location is the transfer URL the data was uploaded to
	Location string

	// Size is the number of bytes uploaded
	Size int64

	// Duration is how long the upload took
	Duration time.Duration
}

// ProgressTracker defines the interface for tracking transfer progress.
// Implementations can provide real-time progress updates during uploads.
type ProgressTracker interface {
	// Update is called after each acknowledged chunk with transfer progress
	Update(bytesTransferred, totalBytes int64)

	// Complete is called when the transfer completes successfully
	Complete()

	// Error is called when the transfer fails
	Error(err error)
}

// ParameterUpdate configures how Parameters node settings are applied.
type ParameterUpdate struct {
	// Strategies lists the strategy ids to enable for the node type
	Strategies []int

	// KeepSynchronized leaves the Parameters node status untouched instead of
	// declaring it unsynchronized
	KeepSynchronized bool

	// SoftUpdate resets child node statuses instead of pushing the new
	// parameters into every child node
	SoftUpdate bool
}

// Configuration types for functional options

// ClientConfig holds configuration for the PolyAnalyst client.
type ClientConfig struct {
	APIVersion         string
	Timeout            time.Duration
	MaxRetries         int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	UserAgent          string
	TLSConfig          *tls.Config
	InsecureSkipVerify bool
	CustomHTTPClient   *http.Client
	Logger             zerolog.Logger
}

// UploadOptionConfig holds configuration for upload operations via functional options.
type UploadOptionConfig struct {
	Endpoint        string
	ChunkSize       int64
	FileName        string
	ContentType     string
	Metadata        map[string]string
	MaxRetries      int
	ProgressTracker ProgressTracker
}

// Option is a functional option for configuring the PolyAnalyst client.
type (
	Option func(*ClientConfig)
	// UploadOption is a functional option for configuring upload operations.
	UploadOption func(*UploadOptionConfig)
)
