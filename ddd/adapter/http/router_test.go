package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/application/cqe"
	"outreach-service/ddd/application/dto"
	"outreach-service/ddd/domain/entity"
	"outreach-service/pkg/config"
	"outreach-service/pkg/errno"
)

type stubJobApp struct {
	uploaded  string
	uploadKey string
	submitted *cqe.SubmitJobReq
	getReq    *cqe.GetJobReq
	listReq   *cqe.ListArtifactsReq
	submitErr error
}

func (s *stubJobApp) CreateStaging(_ context.Context, userID string) (*dto.StagingDTO, error) {
	return &dto.StagingDTO{Token: "tok-" + userID}, nil
}

func (s *stubJobApp) StageUpload(_ context.Context, req *cqe.StageUploadReq, r io.Reader) (*dto.StagingDTO, error) {
	body, _ := io.ReadAll(r)
	s.uploaded = string(body)
	s.uploadKey = req.Kind + ":" + req.Filename
	return &dto.StagingDTO{Token: req.Token, HasSpreadsheet: req.Kind == "spreadsheet"}, nil
}

func (s *stubJobApp) SubmitFromStaging(_ context.Context, req *cqe.SubmitJobReq) (*dto.JobSubmittedDTO, error) {
	s.submitted = req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &dto.JobSubmittedDTO{JobID: "job-1", Status: "queued"}, nil
}

func (s *stubJobApp) SubmitJob(context.Context, entity.JobPayload) (*dto.JobSubmittedDTO, error) {
	return nil, nil
}

func (s *stubJobApp) GetJob(_ context.Context, req *cqe.GetJobReq) (*dto.JobDTO, error) {
	s.getReq = req
	if req.JobID == "missing" {
		return nil, errno.ErrJobNotFound
	}
	return &dto.JobDTO{JobID: req.JobID, Status: "completed"}, nil
}

func (s *stubJobApp) ListArtifacts(_ context.Context, req *cqe.ListArtifactsReq) (*dto.ArtifactListDTO, error) {
	s.listReq = req
	return &dto.ArtifactListDTO{Page: req.Page, Size: req.Size}, nil
}

func (s *stubJobApp) Terminate(context.Context, *cqe.TerminateReq) *dto.TerminationDTO {
	return &dto.TerminationDTO{State: "draining", Accepted: true, Epoch: 1}
}

func (s *stubJobApp) SweepStaging() int { return 0 }

const testSecret = "router-secret"

func newTestEngine(t *testing.T) (*gin.Engine, *stubJobApp) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stub := &stubJobApp{}
	engine := gin.New()
	NewRouter(stub, config.JWTConfig{Secret: testSecret}).SetupRoutes(engine)
	return engine, stub
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(engine *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRoutesRequireToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	w, _ := do(engine, httptest.NewRequest(http.MethodPost, "/api/v1/staging", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitJobRoute(t *testing.T) {
	engine, stub := newTestEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"staging_token":"tok","requested_video_count":4}`))
	req.Header.Set("Authorization", bearer(t, "u1"))
	req.Header.Set("Content-Type", "application/json")

	w, body := do(engine, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "job-1", body["data"].(map[string]interface{})["job_id"])
	require.NotNil(t, stub.submitted)
	assert.Equal(t, "u1", stub.submitted.UserID)
	assert.Equal(t, 4, stub.submitted.RequestedVideoCount)
}

func TestSubmitJobMapsQuotaError(t *testing.T) {
	engine, stub := newTestEngine(t)
	stub.submitErr = errno.ErrTerminating.WithMessage("rebuilding")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"staging_token":"tok"}`))
	req.Header.Set("Authorization", bearer(t, "u1"))
	req.Header.Set("Content-Type", "application/json")

	w, body := do(engine, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.EqualValues(t, errno.ErrTerminating.Code, body["code"])
}

func TestGetJobRouteParsesWait(t *testing.T) {
	engine, stub := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-9?wait=15", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))

	w, _ := do(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 15*time.Second, stub.getReq.Wait)
	assert.Equal(t, "job-9", stub.getReq.JobID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-9?wait=soon", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, _ = do(engine, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/missing?wait=1m", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, _ = do(engine, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRoute(t *testing.T) {
	engine, stub := newTestEngine(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "leads.xlsx")
	require.NoError(t, err)
	_, _ = part.Write([]byte("sheet-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/staging/tok/spreadsheet", &buf)
	req.Header.Set("Authorization", bearer(t, "u1"))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w, _ := do(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sheet-bytes", stub.uploaded)
	assert.Equal(t, "spreadsheet:leads.xlsx", stub.uploadKey)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/staging/tok/overlay", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, _ = do(engine, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTerminateAndVideosRoutes(t *testing.T) {
	engine, stub := newTestEngine(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/terminate", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, body := do(engine, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "draining", body["data"].(map[string]interface{})["state"])

	req = httptest.NewRequest(http.MethodGet, "/api/v1/videos?page=2&size=5", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, _ = do(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, stub.listReq.Page)
	assert.Equal(t, 5, stub.listReq.Size)
	assert.Equal(t, "u1", stub.listReq.UserID)
}

func TestMetricsRouteFollowsFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, enabled := range []bool{true, false} {
		engine := gin.New()
		NewRouter(&stubJobApp{}, config.JWTConfig{Secret: testSecret}).WithMetrics(enabled).SetupRoutes(engine)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if enabled {
			assert.Equal(t, http.StatusOK, w.Code)
		} else {
			assert.Equal(t, http.StatusNotFound, w.Code)
		}
	}
}

func TestHealthReportsFailingChecks(t *testing.T) {
	engine := gin.New()
	NewRouter(&stubJobApp{}, config.JWTConfig{Secret: testSecret}).
		WithHealthChecks(map[string]HealthCheck{
			"mysql": func(context.Context) error { return nil },
			"redis": func(context.Context) error { return errors.New("redis not opened") },
		}).
		SetupRoutes(engine)

	w, body := do(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
	failed := body["failed"].(map[string]interface{})
	assert.Equal(t, "redis not opened", failed["redis"])
	assert.NotContains(t, failed, "mysql")
}

func TestHealthIncludesDetails(t *testing.T) {
	engine := gin.New()
	NewRouter(&stubJobApp{}, config.JWTConfig{Secret: testSecret}).
		WithHealthDetails(map[string]HealthDetail{
			"queue": func(context.Context) (interface{}, error) {
				return map[string]interface{}{"waiting": 3, "pending_waiters": 1}, nil
			},
		}).
		SetupRoutes(engine)

	w, body := do(engine, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	q := body["queue"].(map[string]interface{})
	assert.EqualValues(t, 3, q["waiting"])
	assert.EqualValues(t, 1, q["pending_waiters"])
}

type stubAccountApp struct {
	connected *cqe.ConnectAccountReq
	camera    *cqe.UpdateCameraReq
}

func (s *stubAccountApp) ConnectAccount(_ context.Context, req *cqe.ConnectAccountReq) (*dto.AccountDTO, error) {
	s.connected = req
	return &dto.AccountDTO{AccountID: "acc-1", Provider: req.Provider}, nil
}

func (s *stubAccountApp) ListAccounts(context.Context, string) ([]dto.AccountDTO, error) {
	return []dto.AccountDTO{{AccountID: "acc-1", Provider: "smtp"}}, nil
}

func (s *stubAccountApp) UpdateCamera(_ context.Context, req *cqe.UpdateCameraReq) (*dto.ProfileDTO, error) {
	s.camera = req
	return &dto.ProfileDTO{CameraPosition: req.Position, CameraSize: req.Size}, nil
}

func (s *stubAccountApp) Stats(_ context.Context, userID string) (*dto.StatsDTO, error) {
	return &dto.StatsDTO{SuccessMails: 7, FailedMails: 1}, nil
}

func TestAccountRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	stub := &stubAccountApp{}
	engine := gin.New()
	NewRouter(&stubJobApp{}, config.JWTConfig{Secret: testSecret}).WithAccountApp(stub).SetupRoutes(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts", bytes.NewBufferString(`{"provider":"smtp","smtp_host":"mail.test"}`))
	req.Header.Set("Authorization", bearer(t, "u1"))
	req.Header.Set("Content-Type", "application/json")
	w, _ := do(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, stub.connected)
	assert.Equal(t, "u1", stub.connected.UserID)
	assert.Equal(t, "mail.test", stub.connected.SMTPHost)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/profile/camera", bytes.NewBufferString(`{"position":"top-left","size":"small"}`))
	req.Header.Set("Authorization", bearer(t, "u1"))
	req.Header.Set("Content-Type", "application/json")
	w, _ = do(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "top-left", stub.camera.Position)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, body := do(engine, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, body["data"].(map[string]interface{})["success_mails"])
}

func TestAccountRoutesOnlyWhenMounted(t *testing.T) {
	engine, _ := newTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("Authorization", bearer(t, "u1"))
	w, _ := do(engine, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
