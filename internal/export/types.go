// Package export renders project delivery reports as PDF.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for an export operation
type Request struct {
	ProjectID       string
	IncludeComments bool
	ViewerIsClient  bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// StageReport is one stage section of the report.
type StageReport struct {
	Title          string
	Status         string
	Owner          string
	Position       int
	CompletionNote string
	CompletedAt    *time.Time
	Components     []ComponentReport
}

// ComponentReport is one component row inside a stage section.
type ComponentReport struct {
	Label  string
	Type   string
	Status string
}

// CommentReport is one comment entry in the discussion appendix.
type CommentReport struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
