package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/config"
	"github.com/noah-isme/edugrade-api/internal/database"
	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/handler"
	"github.com/noah-isme/edugrade-api/internal/middleware"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/repository"
	"github.com/noah-isme/edugrade-api/internal/router"
	"github.com/noah-isme/edugrade-api/internal/service"
	"github.com/noah-isme/edugrade-api/pkg/ai"
	"github.com/noah-isme/edugrade-api/pkg/storage"
)

var (
	pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

	profilesByToken = map[string]models.UserProfile{
		"student-token": {ID: "student-1", Email: "student@demo.com", Role: models.RoleStudent, FullName: "Demo Student"},
		"other-token":   {ID: "student-2", Email: "other@demo.com", Role: models.RoleStudent, FullName: "Other Student"},
		"teacher-token": {ID: "teacher-1", Email: "teacher@demo.com", Role: models.RoleTeacher, FullName: "Demo Teacher"},
	}
)

type tokenProvider struct{}

func (tokenProvider) Lookup(_ context.Context, principal service.Principal) (models.UserProfile, error) {
	profile, ok := profilesByToken[principal.Token]
	if !ok {
		return models.UserProfile{}, service.ErrProfileNotFound
	}
	return profile, nil
}

// scriptedAnalyzer fails the analyses whose file name contains "fail" on their first attempt.
type scriptedAnalyzer struct {
	mu       sync.Mutex
	attempts map[string]int
}

func (s *scriptedAnalyzer) Analyze(_ context.Context, input ai.AnalysisInput) (ai.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[input.FileName]++
	if strings.Contains(input.FileName, "fail") && s.attempts[input.FileName] == 1 {
		return ai.AnalysisResult{}, fmt.Errorf("%w: upstream unavailable", ai.ErrAnalysisFailed)
	}
	return ai.AnalysisResult{
		Score:      85,
		WeakTopics: []string{"Derivatives"},
		Resources:  []ai.Resource{{Title: "Khan", URL: "u", Type: "video"}},
	}, nil
}

type testApp struct {
	app      *fiber.App
	db       *gorm.DB
	workflow service.AnalysisWorkflow
	notices  service.NotificationService
	filesDir string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	local, err := storage.NewLocal(t.TempDir(), router.FilesRoute, logger)
	require.NoError(t, err)

	submissionRepo := repository.NewSubmissionRepository(db)
	dashboardService := service.NewDashboardService(submissionRepo, nil, time.Minute, logger)
	submissionService := service.NewSubmissionService(submissionRepo, validate, dashboardService, logger)
	notificationService := service.NewNotificationService(repository.NewNotificationRepository(db), nil, "", nil, validate, logger)
	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)
	reviewService := service.NewReviewService(submissionService, activityService, validate, logger)
	uploadService := service.NewUploadService(local, 1, logger)
	analyzer := &scriptedAnalyzer{attempts: map[string]int{}}
	workflow := service.NewAnalysisWorkflow(submissionService, uploadService, analyzer, notificationService, validate, logger)
	profileService := service.NewProfileService(repository.NewProfileRepository(db), validate, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{})
	router.Register(app, config.Config{AppName: "EduGrade Test", AppEnv: "test", AuthMode: "session", AIProvider: "demo"}, router.Dependencies{
		Resolver:            service.NewIdentityResolver(tokenProvider{}, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(workflow, submissionService, reviewService, validate, middleware.RateLimit("retry", 2, time.Minute), logger),
		DashboardHandler:    handler.NewDashboardHandler(dashboardService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, time.Second),
		ProfileHandler:      handler.NewProfileHandler(profileService, logger),
		ActivityHandler:     handler.NewActivityHandler(activityService, logger),
		FilesDir:            local.Dir(),
	})

	return &testApp{app: app, db: db, workflow: workflow, notices: notificationService, filesDir: local.Dir()}
}

// settle waits for background analyses; the workflow accepts no new uploads afterwards.
func (a *testApp) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.workflow.Shutdown(ctx))
}

func (a *testApp) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (a *testApp) doJSON(t *testing.T, method, path, token string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}
	return a.do(t, method, path, token, body, fiber.MIMEApplicationJSON)
}

func (a *testApp) upload(t *testing.T, token, fileName string, content []byte, fields map[string]string) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return a.do(t, http.MethodPost, "/api/v2/submissions", token, body, writer.FormDataContentType())
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

func decodeResponse[T any](t *testing.T, resp *http.Response) envelope[T] {
	t.Helper()
	defer resp.Body.Close()
	var out envelope[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// waitForStatus polls the submission until it reaches status while keeping the workflow open.
func (a *testApp) waitForStatus(t *testing.T, id, status string) dto.SubmissionResponse {
	t.Helper()
	var current dto.SubmissionResponse
	require.Eventually(t, func() bool {
		resp := a.do(t, http.MethodGet, "/api/v2/submissions/"+id, "teacher-token", nil, "")
		current = decodeResponse[dto.SubmissionResponse](t, resp).Data
		return current.Status == status
	}, 5*time.Second, 20*time.Millisecond)
	return current
}
