package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seminarhub/internal/audit"
	"seminarhub/internal/cloudinary"
	"seminarhub/internal/config"
	"seminarhub/internal/httpmiddleware"
	"seminarhub/internal/qr"
	"seminarhub/internal/queue"
	"seminarhub/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	r := NewRouter(Deps{
		Config: config.App{Env: "development", QRBaseURL: "https://seminars.example.com"},
		Store:  store.Configured(mem),
	})
	return r, mem
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func rows(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &out), w.Body.String())
	return out
}

func TestCreateSeminarAndAttendanceFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/seminars/", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "title is required", decode(t, w).Error)

	w = do(r, http.MethodPost, "/api/seminars/", `{"title":"Intro","participants":"30"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := rows(t, w)
	require.Len(t, created, 1)
	assert.EqualValues(t, 30, created[0]["capacity"])

	w = do(r, http.MethodPost, "/api/seminars/s1/attendance/time_in/", `{"participant_email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := rows(t, w)

	w = do(r, http.MethodPost, "/api/seminars/s1/attendance/time_in/", `{"participant_email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := rows(t, w)
	assert.Equal(t, first[0]["time_in"], second[0]["time_in"])
	assert.Equal(t, first[0]["id"], second[0]["id"])

	w = do(r, http.MethodGet, "/api/seminars/s1/evaluations/check/?participant_email=nobody@x.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"evaluated":false}`, w.Body.String())
}

func TestMalformedJSON(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{
		"/api/seminars/",
		"/api/seminars/s1/attendance/time_in/",
		"/api/seminars/s1/participants/join/",
		"/api/seminars/s1/evaluations/submit/",
	} {
		w := do(r, http.MethodPost, path, `{"title":`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "Invalid JSON in request body", decode(t, w).Error, path)
	}

	w := do(r, http.MethodPost, "/api/seminars/", `["title"]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnconfiguredStore(t *testing.T) {
	cfgErr := &store.ConfigError{Service: "Supabase", Missing: []string{"SUPABASE_URL"}}
	r := NewRouter(Deps{Store: store.Unconfigured(cfgErr)})

	cases := []struct{ method, path string }{
		{http.MethodGet, "/api/seminars/"},
		{http.MethodPost, "/api/seminars/"},
		{http.MethodGet, "/api/seminars/s1/"},
		{http.MethodPut, "/api/seminars/s1/"},
		{http.MethodDelete, "/api/seminars/s1/"},
		{http.MethodGet, "/api/seminars/s1/attendance/"},
		{http.MethodPost, "/api/seminars/s1/attendance/time_out/"},
		{http.MethodGet, "/api/seminars/s1/participants/"},
		{http.MethodPost, "/api/seminars/s1/participants/check_in/"},
		{http.MethodGet, "/api/seminars/s1/evaluations/"},
		{http.MethodGet, "/api/seminars/s1/evaluations/check/"},
	}
	for _, tc := range cases {
		w := do(r, tc.method, tc.path, `{"participant_email":"a@x.com","title":"x"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code, tc.path)
		assert.Equal(t, cfgErr.Error(), decode(t, w).Error, tc.path)
	}

	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSeminarCRUD(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/seminars/", `{"title":"Go","duration":"90","speaker":"Rob"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := rows(t, w)[0]["id"].(string)

	w = do(r, http.MethodGet, "/api/seminars/"+id+"/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &got))
	assert.EqualValues(t, 90, got["duration"])

	w = do(r, http.MethodPut, "/api/seminars/"+id+"/", `{"title":"Go 2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	updated := rows(t, w)[0]
	assert.Equal(t, "Go 2", updated["title"])
	assert.Nil(t, updated["speaker"])
	assert.NotNil(t, updated["updated_at"])

	w = do(r, http.MethodPut, "/api/seminars/missing/", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Seminar missing not found", decode(t, w).Error)

	w = do(r, http.MethodPut, "/api/seminars/"+id+"/", `{"capacity":"lots"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/api/seminars/"+id+"/", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(r, http.MethodGet, "/api/seminars/"+id+"/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Seminar "+id+" not found", decode(t, w).Error)

	w = do(r, http.MethodGet, "/api/seminars/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rows(t, w))
}

func TestParticipantsCheckInOut(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/seminars/s1/participants/check_in/", `{"participant_email":"a@x.com"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Participant not found for this seminar", decode(t, w).Error)

	w = do(r, http.MethodPost, "/api/seminars/s1/participants/join/", `{"participant_name":"Ann"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "participant_email is required", decode(t, w).Error)

	w = do(r, http.MethodPost, "/api/seminars/s1/participants/join/", `{"participant_email":"a@x.com","participant_name":"Ann"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/api/seminars/s1/participants/check_in/", `{"participant_email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	in := rows(t, w)
	require.Len(t, in, 1)
	assert.Equal(t, true, in[0]["present"])
	assert.NotNil(t, in[0]["check_in"])

	w = do(r, http.MethodPost, "/api/seminars/s1/participants/check_out/", `{"participant_email":"a@x.com"}`)
	require.Equal(t, http.StatusOK, w.Code)
	out := rows(t, w)
	assert.Equal(t, false, out[0]["present"])
	assert.NotNil(t, out[0]["check_out"])

	w = do(r, http.MethodGet, "/api/seminars/s1/participants/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, rows(t, w), 1)
}

func TestEvaluations(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/seminars/s1/evaluations/submit/", `{"participant_email":"a@x.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "answers are required", decode(t, w).Error)

	w = do(r, http.MethodPost, "/api/seminars/s1/evaluations/submit/", `{"participant_email":"a@x.com","answers":{"q1":5}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/api/seminars/s1/evaluations/check/", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "participant_email query parameter is required", decode(t, w).Error)

	w = do(r, http.MethodGet, "/api/seminars/s1/evaluations/check/?participant_email=a@x.com", "")
	assert.JSONEq(t, `{"evaluated":true}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/seminars/s1/evaluations/?participant_email=b@x.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rows(t, w))

	w = do(r, http.MethodGet, "/api/seminars/s1/evaluations/", "")
	assert.Len(t, rows(t, w), 1)
}

func TestScanAlternatesDirection(t *testing.T) {
	r, _ := newTestRouter(t)
	data, err := qr.URL("https://seminars.example.com", qr.Payload{SeminarID: "s1", ParticipantEmail: "a@x.com"})
	require.NoError(t, err)
	body, _ := json.Marshal(map[string]string{"data": data})

	var result struct {
		Direction string         `json:"direction"`
		Record    map[string]any `json:"record"`
	}

	w := do(r, http.MethodPost, "/api/attendance/scan/", string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, "in", result.Direction)

	w = do(r, http.MethodPost, "/api/attendance/scan/", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, "out", result.Direction)
	assert.NotNil(t, result.Record["time_out"])

	w = do(r, http.MethodPost, "/api/attendance/scan/", `{"data":"garbage"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParticipantQR(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/seminars/s1/participants/qr/?participant_email=a@x.com&size=200", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	w = do(r, http.MethodGet, "/api/seminars/s1/participants/qr/", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCertificateRequiresEvaluation(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/seminars/", `{"title":"Intro","speaker":"Ada","date":"2024-07-01"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := rows(t, w)[0]["id"].(string)
	path := "/api/seminars/" + id + "/certificate/?participant_email=a@x.com"

	w = do(r, http.MethodGet, path, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/seminars/unknown/certificate/?participant_email=a@x.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	do(r, http.MethodPost, "/api/seminars/"+id+"/participants/join/", `{"participant_email":"a@x.com","participant_name":"Ann Lee"}`)
	do(r, http.MethodPost, "/api/seminars/"+id+"/evaluations/submit/", `{"participant_email":"a@x.com","answers":{"q1":"great"}}`)

	w = do(r, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "certificate-")
}

type recordingTransport struct {
	urls []string
	body []byte
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.urls = append(rt.urls, req.URL.String())
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"image/png"}},
		Body:       io.NopCloser(bytes.NewReader(rt.body)),
		Request:    req,
	}, nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func evaluatedSeminar(t *testing.T, r http.Handler, templateURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"title": "Intro", "certificate_template_url": templateURL})
	w := do(r, http.MethodPost, "/api/seminars/", string(body))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := rows(t, w)[0]["id"].(string)
	w = do(r, http.MethodPost, "/api/seminars/"+id+"/evaluations/submit/", `{"participant_email":"a@x.com","answers":{"q1":5}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	return id
}

func TestCertificateIgnoresForeignTemplateHosts(t *testing.T) {
	hits := 0
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer internal.Close()

	r := NewRouter(Deps{
		Store:      store.Configured(store.NewMemory()),
		Cloudinary: cloudinary.New("demo", "key", "secret", ""),
	})
	for _, tmpl := range []string{
		internal.URL + "/admin/secret",
		"https://res.cloudinary.com/other/image/upload/t.png",
		"http://169.254.169.254/latest/meta-data/",
	} {
		id := evaluatedSeminar(t, r, tmpl)
		w := do(r, http.MethodGet, "/api/seminars/"+id+"/certificate/?participant_email=a@x.com", "")
		require.Equal(t, http.StatusOK, w.Code, tmpl)
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")), tmpl)
	}
	assert.Zero(t, hits)
}

func TestCertificateFetchesAccountTemplate(t *testing.T) {
	rt := &recordingTransport{body: pngBytes(t)}
	r := NewRouter(Deps{
		Store:      store.Configured(store.NewMemory()),
		Cloudinary: cloudinary.New("demo", "key", "secret", ""),
		HTTP:       &http.Client{Transport: rt},
	})
	tmpl := "https://res.cloudinary.com/demo/image/upload/v1/certificate_templates/t.png"
	id := evaluatedSeminar(t, r, tmpl)

	w := do(r, http.MethodGet, "/api/seminars/"+id+"/certificate/?participant_email=a@x.com", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{tmpl}, rt.urls)
}

func TestCertificateTemplateNotConfigured(t *testing.T) {
	r, _ := newTestRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "bg.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/seminars/s1/certificate_template/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimitApplies(t *testing.T) {
	r := NewRouter(Deps{
		Store:   store.Configured(store.NewMemory()),
		Limiter: httpmiddleware.NewSimpleTokenBucket(1, 1),
	})
	w := do(r, http.MethodGet, "/api/seminars/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/api/seminars/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

type failingStore struct{ store.Store }

func (failingStore) Select(context.Context, store.Query) ([]store.Record, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureMessage(t *testing.T) {
	r := NewRouter(Deps{Store: store.Configured(failingStore{store.NewMemory()})})

	w := do(r, http.MethodGet, "/api/seminars/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to fetch seminars: connection refused", decode(t, w).Error)

	w = do(r, http.MethodGet, "/api/seminars/s1/participants/", "")
	assert.Equal(t, "Failed to fetch participants: connection refused", decode(t, w).Error)
}

type countingStore struct {
	store.Store
	calls int
}

func (c *countingStore) Select(ctx context.Context, q store.Query) ([]store.Record, error) {
	c.calls++
	return c.Store.Select(ctx, q)
}

func (c *countingStore) First(ctx context.Context, q store.Query) (store.Record, bool, error) {
	c.calls++
	return c.Store.First(ctx, q)
}

func (c *countingStore) Insert(ctx context.Context, table string, rec store.Record) ([]store.Record, error) {
	c.calls++
	return c.Store.Insert(ctx, table, rec)
}

func (c *countingStore) Update(ctx context.Context, q store.Query, set store.Record) ([]store.Record, error) {
	c.calls++
	return c.Store.Update(ctx, q, set)
}

func TestRejectedRequestsNeverReachStore(t *testing.T) {
	counter := &countingStore{Store: store.NewMemory()}
	r := NewRouter(Deps{Store: store.Configured(counter)})

	cases := []struct{ method, path, body string }{
		{http.MethodPost, "/api/seminars/", `{"speaker":"x"}`},
		{http.MethodPost, "/api/seminars/", `{"title":"x","duration":"long"}`},
		{http.MethodPut, "/api/seminars/s1/", `{"capacity":true}`},
		{http.MethodPost, "/api/seminars/s1/attendance/time_in/", `{}`},
		{http.MethodPost, "/api/seminars/s1/participants/check_out/", `{"participant_email":""}`},
		{http.MethodPost, "/api/seminars/s1/evaluations/submit/", `{"participant_email":"a@x.com"}`},
		{http.MethodPost, "/api/seminars/s1/participants/join/", `not json`},
		{http.MethodPost, "/api/seminars/", `{"title":{}}`},
		{http.MethodPost, "/api/seminars/s1/attendance/time_in/", `{"participant_email":[]}`},
		{http.MethodPost, "/api/seminars/s1/participants/join/", `{"participant_email":{}}`},
	}
	for _, tc := range cases {
		w := do(r, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path)
	}
	assert.Zero(t, counter.calls)
}

func TestAuditEntriesPublished(t *testing.T) {
	q := queue.NewInMemory(8)
	r := NewRouter(Deps{Store: store.Configured(store.NewMemory()), Audit: q})

	do(r, http.MethodGet, "/", "")
	do(r, http.MethodPost, "/api/seminars/", `{}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := <-msgs
	assert.Equal(t, audit.MessageType, msg.Type)
	var e audit.Entry
	require.NoError(t, json.Unmarshal(msg.Body, &e))
	assert.Equal(t, "/api/seminars/", e.Endpoint)
	assert.Equal(t, http.StatusBadRequest, e.StatusCode)
	assert.Equal(t, "title is required", e.ErrorMessage)
}

func TestRootBanner(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "VPAA Seminar Management API", body["message"])
	assert.Equal(t, "running", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
