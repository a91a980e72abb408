package export

import (
	"context"
	"fmt"
	"time"

	"readback/api/internal/content"
)

// Source supplies the document to export.
type Source interface {
	Current(ctx context.Context) (content.List, error)
	At(ctx context.Context, revision string) (content.List, error)
}

// Service provides document export functionality
type Service struct {
	source Source
	pdf    func(ctx context.Context, html string) ([]byte, error)
	now    func() time.Time
}

func NewService(source Source) *Service {
	return &Service{source: source, pdf: renderPDF, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	var (
		list content.List
		err  error
	)
	if req.Revision == "" {
		list, err = s.source.Current(ctx)
	} else {
		list, err = s.source.At(ctx, req.Revision)
	}
	if err != nil {
		return nil, fmt.Errorf("load content: %w", err)
	}

	title := req.Title
	if title == "" {
		title = "Readback document"
	}
	generated := s.now().UTC()
	html, err := RenderDocumentHTML(NewTemplateData(title, req.Revision, list, generated))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result := &Result{GeneratedAt: generated}
	switch req.Format {
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		result.Data = data
		result.Filename = sanitizeFilename(title) + ".pdf"
		result.MimeType = "application/pdf"
	default:
		result.Data = []byte(html)
		result.Filename = sanitizeFilename(title) + ".html"
		result.MimeType = "text/html; charset=utf-8"
	}
	return result, nil
}
