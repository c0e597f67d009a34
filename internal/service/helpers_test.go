package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/models"
)

var (
	pngHeader   = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	pdfDocument = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

	studentProfile = models.UserProfile{ID: "student-1", Email: "student@demo.com", Role: models.RoleStudent, FullName: "Demo Student"}
	otherStudent   = models.UserProfile{ID: "student-2", Email: "other@demo.com", Role: models.RoleStudent, FullName: "Other Student"}
	teacherProfile = models.UserProfile{ID: "teacher-1", Email: "teacher@demo.com", Role: models.RoleTeacher, FullName: "Demo Teacher"}
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Submission{}, &models.UserProfile{}, &models.Notification{}, &models.ActivityLog{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestFileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(int64(len(content))+1024))
	files := req.MultipartForm.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

type notice struct {
	UserID       string
	Kind         string
	Title        string
	Message      string
	SubmissionID string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) Notify(_ context.Context, userID, kind, title, message, submissionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{UserID: userID, Kind: kind, Title: title, Message: message, SubmissionID: submissionID})
}

func (r *recordingNotifier) kinds(submissionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.notices))
	for _, item := range r.notices {
		if item.SubmissionID == submissionID {
			kinds = append(kinds, item.Kind)
		}
	}
	return kinds
}

type memoryStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{files: map[string][]byte{}}
}

func (m *memoryStorage) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	url := "mem://" + name
	m.files[url] = content
	return url, nil
}

func (m *memoryStorage) Open(_ context.Context, location string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[location]
	if !ok {
		return nil, fmt.Errorf("no file at %s", location)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	count int
}

func (c *countingInvalidator) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func newValidator() *validator.Validate {
	return validator.New()
}
