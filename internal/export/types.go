// Package export renders the document as a standalone HTML page or a PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. An empty value means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	Format Format
	Title  string
	// Revision is a history hash; empty exports the current document.
	Revision string
}

// Result contains the export output
type Result struct {
	Data        []byte
	Filename    string
	MimeType    string
	GeneratedAt time.Time
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chrome binary is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
