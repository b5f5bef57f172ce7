package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-scanner/internal/auth"
	"github.com/zombor/invoice-scanner/internal/extract"
	"github.com/zombor/invoice-scanner/internal/preprocess"
	"github.com/zombor/invoice-scanner/internal/recognition"
)

var (
	// ErrUnsupportedType is returned before any processing for uploads that
	// are neither an image nor a PDF
	ErrUnsupportedType = preprocess.ErrUnsupportedType
	ErrDecode          = errors.New("could not read image")
	ErrRecognition     = errors.New("text recognition failed")
	ErrForbidden       = errors.New("admin access required")
)

var (
	reFilenameChars  = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reFilenameSpaces = regexp.MustCompile(`\s+`)
)

// IDGenerator generates unique IDs for scans
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs the scan pipeline and manages stored scans
type Service struct {
	db          DB
	recognizer  recognition.Recognizer
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	normalize   preprocess.Options
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, recognizer recognition.Recognizer, storage Storage) *Service {
	return NewServiceWithDeps(db, recognizer, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, recognizer recognition.Recognizer, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		recognizer:  recognizer,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
		normalize:   preprocess.DefaultOptions(),
	}
}

// SetMaxWidth changes the width enhanced images are downscaled to
func (s *Service) SetMaxWidth(width int) {
	if width > 0 {
		s.normalize.MaxWidth = width
	}
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = reFilenameChars.ReplaceAllString(base, "")
	base = reFilenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	if reFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return base + ext
}

// ProcessScan stores an upload, recognizes its text and saves the extracted
// fields. When enhance is set the recognizer sees the binarized image
// instead of the original.
func (s *Service) ProcessScan(ctx context.Context, userID, filename string, data []byte, contentType string, enhance bool) (*Scan, error) {
	contentType = preprocess.DetectContentType(filename, contentType, data)
	if !preprocess.IsSupported(contentType) {
		scansTotal.WithLabelValues("unsupported").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	uploadSizeBytes.Observe(float64(len(data)))

	img, err := preprocess.Decode(data, contentType)
	if err != nil {
		scansTotal.WithLabelValues("decode_error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if enhance {
		img, err = preprocess.Normalize(img, s.normalize)
		if err != nil {
			scansTotal.WithLabelValues("decode_error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}
	pngData, err := preprocess.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("saving file: %w", err)
	}

	start := time.Now()
	result, err := s.recognizer.Recognize(ctx, pngData)
	recognitionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("Failed to recognize text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"enhance", enhance,
			"error", err,
		)
		scansTotal.WithLabelValues("recognition_error").Inc()
		s.removeFile(savedPath)
		return nil, fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	recognizedTextLength.Observe(float64(len(result.Text)))

	fields := extract.Extract(result.Text)
	recordFields(fields)

	scan := &Scan{
		ID:            id,
		UserID:        userID,
		ImageURL:      "/api/scans/" + id + "/image",
		ExtractedText: result.Text,
		TaxID:         fields.TaxID,
		Date:          fields.Date,
		Total:         fields.Total,
		Confidence:    result.Confidence,
		Enhanced:      enhance,
		Filename:      savedPath,
		ContentType:   contentType,
		CreatedAt:     now,
	}

	if err := s.db.SaveScan(ctx, scan); err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving scan to database: %w", err)
	}

	scansTotal.WithLabelValues("success").Inc()
	slog.Info("Scan processed",
		"id", id,
		"user_id", userID,
		"confidence", result.Confidence,
		"fields_found", !fields.IsEmpty(),
	)
	return scan, nil
}

// ExtractText re-runs field extraction on text the user corrected by hand
func (s *Service) ExtractText(text string) extract.Fields {
	return extract.Extract(text)
}

// GetScan returns a scan the requester may see. Scans owned by someone else
// look missing to anyone but the admin.
func (s *Service) GetScan(ctx context.Context, requester *auth.Claims, id string) (*Scan, error) {
	scan, err := s.db.GetScan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	if !canAccess(requester, scan) {
		return nil, fmt.Errorf("getting scan: %w: %s", ErrNotFound, id)
	}
	return scan, nil
}

// GetScanImage returns the uploaded file of a scan
func (s *Service) GetScanImage(ctx context.Context, requester *auth.Claims, id string) ([]byte, string, error) {
	scan, err := s.GetScan(ctx, requester, id)
	if err != nil {
		return nil, "", err
	}

	data, err := s.storage.Get(scan.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting scan file: %w", err)
	}
	return data, scan.ContentType, nil
}

// ListScans returns the requester's own scans, newest first
func (s *Service) ListScans(ctx context.Context, requester *auth.Claims, query string) ([]*Scan, error) {
	scans, err := s.db.ListScans(ctx, Filter{UserID: requester.UserID, Query: query})
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}

// ListAllScans returns every user's scans for the admin dashboard
func (s *Service) ListAllScans(ctx context.Context, requester *auth.Claims, query string) ([]*Scan, error) {
	if !requester.Admin {
		return nil, ErrForbidden
	}
	scans, err := s.db.ListScans(ctx, Filter{Query: query})
	if err != nil {
		return nil, fmt.Errorf("listing all scans: %w", err)
	}
	return scans, nil
}

// DeleteScan removes a scan and its file
func (s *Service) DeleteScan(ctx context.Context, requester *auth.Claims, id string) error {
	scan, err := s.GetScan(ctx, requester, id)
	if err != nil {
		return err
	}

	s.removeFile(scan.Filename)

	if err := s.db.DeleteScan(ctx, id); err != nil {
		return fmt.Errorf("deleting scan from database: %w", err)
	}
	return nil
}

// ExportFields renders the fields of a scan as an indented JSON document
func (s *Service) ExportFields(ctx context.Context, requester *auth.Claims, id string) ([]byte, error) {
	scan, err := s.GetScan(ctx, requester, id)
	if err != nil {
		return nil, err
	}
	data, err := scan.Fields().JSON()
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	return data, nil
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

func canAccess(requester *auth.Claims, scan *Scan) bool {
	return requester != nil && (requester.Admin || scan.UserID == requester.UserID)
}

func recordFields(fields extract.Fields) {
	if fields.TaxID != nil {
		fieldsFound.WithLabelValues("cnpj").Inc()
	}
	if fields.Date != nil {
		fieldsFound.WithLabelValues("data").Inc()
	}
	if fields.Total != nil {
		fieldsFound.WithLabelValues("total").Inc()
	}
}
