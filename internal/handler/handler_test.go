package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/cost-estimator/internal/llm"
	"github.com/capitalize-ai/cost-estimator/internal/model"
	"github.com/capitalize-ai/cost-estimator/internal/service"
	"github.com/capitalize-ai/cost-estimator/pkg/logger"
)

const storageEstimate = `{"services":[{"service_name":"Azure Storage Account","assumptions":["100 GB hot tier"],"quantity":"100 GB","price_rate":"£0.02/GB","estimated_monthly_cost":"£2.00"}],"total_estimated_monthly_cost":2.00}`

// scriptedClient answers Complete calls in order and streams fixed fragments.
type scriptedClient struct {
	mu        sync.Mutex
	replies   []string
	failNext  error
	fragments []string
	streamErr error
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failNext != nil {
		err := c.failNext
		c.failNext = nil
		return nil, err
	}
	if len(c.replies) == 0 {
		return nil, &llm.RequestError{Provider: "scripted", Err: errors.New("no reply")}
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return &llm.CompletionResponse{Content: r}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *llm.CompletionRequest) (llm.FragmentStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &scriptedStream{fragments: append([]string(nil), c.fragments...), err: c.streamErr}, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

type scriptedStream struct {
	fragments []string
	err       error
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *scriptedStream) Close() error { return nil }

func newTestRouter(client llm.Client) http.Handler {
	return newTestRouterWithLimit(client, 1<<20)
}

func newTestRouterWithLimit(client llm.Client, maxBytes int) http.Handler {
	log := logger.NewNop()
	sessions := service.NewSessionService(nil, 0, log)
	orch := service.NewOrchestrator(client, nil, service.OrchestratorConfig{
		StructuredEstimate: true,
		MaxUploadBytes:     maxBytes,
		RequestTimeout:     time.Minute,
	}, log)

	sh := NewSessionHandler(sessions, log)
	dh := NewDiagramHandler(sessions, orch, maxBytes, log)
	mh := NewMessageHandler(sessions, log)
	st := NewStreamHandler(sessions, orch, log)
	hh := NewHealthHandler(nil, client.Name())

	r := chi.NewRouter()
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", sh.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sh.Get)
			r.Delete("/", sh.Delete)
			r.Put("/selection", sh.UpdateSelection)
			r.Get("/messages", mh.List)
			r.Post("/messages", st.Send)
			r.Post("/diagram", dh.Upload)
			r.Post("/retry", dh.Retry)
		})
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler, body string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/sessions", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var v model.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v.ID
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "architecture.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, h http.Handler, id string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, DiagramFormField, data)
	return do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/diagram", body, ct)
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestRouter(&scriptedClient{})

	id := createSession(t, h, `{"mode":"optimise"}`)

	rec := do(t, h, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v model.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, model.ModeOptimise, v.Mode)
	assert.Equal(t, "idle", v.State)

	rec = do(t, h, http.MethodPut, "/api/v1/sessions/"+id+"/selection",
		strings.NewReader(`{"provider":"Azure","service_tier":"Developer","price_ceiling":500}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, model.ProviderAzure, v.Selection.Provider)

	rec = do(t, h, http.MethodDelete, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionEmptyBody(t *testing.T) {
	h := newTestRouter(&scriptedClient{})
	id := createSession(t, h, "")
	assert.NoError(t, uuid.Validate(id))
}

func TestSessionBadRequests(t *testing.T) {
	h := newTestRouter(&scriptedClient{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad mode", http.MethodPost, "/api/v1/sessions", `{"mode":"translate"}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/v1/sessions", `{`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/v1/sessions/not-a-uuid", "", http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/v1/sessions/" + uuid.NewString(), "", http.StatusNotFound},
		{"unknown id delete", http.MethodDelete, "/api/v1/sessions/" + uuid.NewString(), "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, strings.NewReader(tt.body), "application/json")
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}

	id := createSession(t, h, `{}`)
	rec := do(t, h, http.MethodPut, "/api/v1/sessions/"+id+"/selection",
		strings.NewReader(`{"provider":"GCP","service_tier":"Standard","price_ceiling":15}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndFollowUp(t *testing.T) {
	client := &scriptedClient{
		replies:   []string{"Azure Storage Account", storageEstimate},
		fragments: []string{"Blob ", "storage."},
	}
	h := newTestRouter(client)
	id := createSession(t, h, `{"mode":"estimate"}`)

	rec := upload(t, h, id, pngBytes(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "result_displayed", resp.State)
	assert.Equal(t, "png", resp.Image.Format)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Tabular)
	assert.Equal(t, 2.00, resp.Result.Total)
	require.Len(t, resp.Result.Rows, 1)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		strings.NewReader(`{"content":"What is cheapest?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: token\n"))
	assert.Contains(t, body, `"token":"Blob "`)
	assert.Contains(t, body, "event: message_complete\n")
	assert.Contains(t, body, `"content":"Blob storage."`)
	assert.Contains(t, body, `"message_count":7`)
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {\"success\":true}\n\n"))

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+id+"/messages", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.ListMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Messages, 7)
	assert.Equal(t, []model.PartKind{model.PartText, model.PartImage}, list.Messages[1].Kinds)
	assert.NotContains(t, rec.Body.String(), "base64")
}

func TestUploadErrors(t *testing.T) {
	client := &scriptedClient{failNext: &llm.RequestError{Provider: "scripted", Err: errors.New("secret backend detail")}}
	h := newTestRouter(client)
	id := createSession(t, h, `{}`)

	rec := upload(t, h, id, []byte("GIF89a definitely a gif"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	body, ct := multipartBody(t, "file", pngBytes(t))
	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/diagram", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, id, pngBytes(t))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), modelFailureNotice)
	assert.NotContains(t, rec.Body.String(), "secret backend detail")

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	var v model.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "image_received", v.State)
	require.Len(t, v.Turns, 1)
	assert.Equal(t, model.TurnFailed, v.Turns[0].Status)
}

// noisyPNG encodes random pixels so the file stays larger than its raw size.
func noisyPNG(t *testing.T, side int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	rng := rand.New(rand.NewSource(1))
	rng.Read(img.Pix)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestUploadSizeLimit(t *testing.T) {
	big := noisyPNG(t, 800)
	require.Greater(t, len(big), 2<<20)

	t.Run("zero means unlimited", func(t *testing.T) {
		h := newTestRouterWithLimit(&scriptedClient{replies: []string{"Cloud Storage", storageEstimate}}, 0)
		id := createSession(t, h, `{}`)

		rec := upload(t, h, id, big)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("limit enforced", func(t *testing.T) {
		h := newTestRouterWithLimit(&scriptedClient{}, 1<<20)
		id := createSession(t, h, `{}`)

		rec := upload(t, h, id, big)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestRetryAfterFailure(t *testing.T) {
	client := &scriptedClient{
		failNext: &llm.RequestError{Provider: "scripted", Err: errors.New("timeout")},
		replies:  []string{"Azure Storage Account", storageEstimate},
	}
	h := newTestRouter(client)
	id := createSession(t, h, `{}`)

	rec := upload(t, h, id, pngBytes(t))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/retry", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "result_displayed", resp.State)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/retry", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFollowUpBeforeResult(t *testing.T) {
	h := newTestRouter(&scriptedClient{})
	id := createSession(t, h, `{}`)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		strings.NewReader(`{"content":"hello"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		strings.NewReader(`{"content":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFollowUpStreamError(t *testing.T) {
	client := &scriptedClient{
		replies:   []string{"Azure Storage Account", storageEstimate},
		fragments: []string{"Partial "},
		streamErr: &llm.RequestError{Provider: "scripted", Err: errors.New("connection reset")},
	}
	h := newTestRouter(client)
	id := createSession(t, h, `{}`)

	rec := upload(t, h, id, pngBytes(t))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/"+id+"/messages",
		strings.NewReader(`{"content":"Why?"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "event: token\n")
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, `"code":"model_request_failed"`)
	assert.NotContains(t, body, "connection reset")
	assert.NotContains(t, body, "event: done")

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	var v model.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 5, v.MessageCount)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(&scriptedClient{})

	rec := do(t, h, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider":"scripted"`)
}
