package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/edugrade-api/internal/observability"
)

var (
	// ErrUploadMissing indicates the request carried no file.
	ErrUploadMissing = errors.New("file is required")
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the extension or detected MIME type is not permitted.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
)

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".txt":  "text/plain",
}

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// StoredFile describes an accepted upload.
type StoredFile struct {
	OriginalName string
	URL          string
	MimeType     string
	SizeBytes    int64
	Checksum     string
	Content      []byte
}

// UploadService validates submission files and hands them to storage.
type UploadService interface {
	Accept(ctx context.Context, file *multipart.FileHeader) (StoredFile, error)
	Load(ctx context.Context, location string) ([]byte, error)
}

type uploadService struct {
	storage FileStorage
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
	now     func() time.Time
}

// NewUploadService constructs an upload service with a size limit in megabytes.
func NewUploadService(storage FileStorage, maxSizeMB int, logger zerolog.Logger) UploadService {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &uploadService{
		storage: storage,
		logger:  logger.With().Str("component", "upload_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/noah-isme/edugrade-api/internal/service/upload"),
		now:     time.Now,
	}
}

func (s *uploadService) Accept(ctx context.Context, file *multipart.FileHeader) (StoredFile, error) {
	ctx, span := s.tracer.Start(ctx, "upload.accept")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	if file == nil {
		return StoredFile{}, s.reject(span, "missing", ErrUploadMissing)
	}

	span.SetAttributes(
		attribute.String("upload.original_name", strings.TrimSpace(file.Filename)),
		attribute.Int64("upload.request_size", file.Size),
	)

	if file.Size > s.maxSize {
		return StoredFile{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	extension := strings.ToLower(filepath.Ext(file.Filename))
	expected, ok := allowedExtensions[extension]
	if !ok {
		return StoredFile{}, s.reject(span, "extension", fmt.Errorf("%w: %q", ErrUploadTypeNotAllowed, extension))
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return StoredFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return StoredFile{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(buf.Len()) > s.maxSize {
		return StoredFile{}, s.reject(span, "size", ErrUploadTooLarge)
	}

	detected := baseMime(mimetype.Detect(buf.Bytes()).String())
	span.SetAttributes(attribute.String("upload.detected_mime", detected))
	if detected != expected {
		return StoredFile{}, s.reject(span, "type", fmt.Errorf("%w: %s content in %s file", ErrUploadTypeNotAllowed, detected, extension))
	}

	checksum := sha256.Sum256(buf.Bytes())
	storedName := storageName(file.Filename, hex.EncodeToString(checksum[:4]), s.now())

	url, err := s.storage.Upload(ctx, storedName, bytes.NewReader(buf.Bytes()))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return StoredFile{}, fmt.Errorf("store upload: %w", err)
	}

	observability.UploadAccepted().WithLabelValues(detected).Inc()
	span.SetStatus(codes.Ok, "stored")
	s.logger.Debug().Str("file_url", url).Int("size_bytes", buf.Len()).Msg("upload stored")

	return StoredFile{
		OriginalName: strings.TrimSpace(filepath.Base(file.Filename)),
		URL:          url,
		MimeType:     detected,
		SizeBytes:    int64(buf.Len()),
		Checksum:     hex.EncodeToString(checksum[:]),
		Content:      buf.Bytes(),
	}, nil
}

func (s *uploadService) Load(ctx context.Context, location string) ([]byte, error) {
	reader, err := s.storage.Open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	defer reader.Close()

	content, err := io.ReadAll(io.LimitReader(reader, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read stored file: %w", err)
	}
	if int64(len(content)) > s.maxSize {
		return nil, ErrUploadTooLarge
	}
	return content, nil
}

func (s *uploadService) reject(span trace.Span, reason string, err error) error {
	observability.UploadRejected().WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

func baseMime(value string) string {
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func storageName(original, digest string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = "upload"
	}
	return fmt.Sprintf("%s-%d-%s%s", base, now.Unix(), digest, strings.ToLower(filepath.Ext(original)))
}
