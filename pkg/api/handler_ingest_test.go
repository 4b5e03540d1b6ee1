package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycove/signalrelay/pkg/source"
	"github.com/relaycove/signalrelay/pkg/store"
)

const testPushSecret = "test-secret"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testPushSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type fakeCoordinator struct {
	handlePushErr  error
	forcePollErr   error
	lastAccount    string
	lastHintPostID string
}

func (f *fakeCoordinator) HandlePush(account, hintPostID string) error {
	f.lastAccount, f.lastHintPostID = account, hintPostID
	return f.handlePushErr
}

func (f *fakeCoordinator) ForcePoll(account string) error {
	f.lastAccount = account
	return f.forcePollErr
}

func (f *fakeCoordinator) Stats() source.Stats { return source.Stats{} }

type fakeAPIStore struct{}

func (fakeAPIStore) Health(ctx context.Context) (*store.HealthStatus, error) { return nil, nil }
func (fakeAPIStore) Stats(ctx context.Context) (*store.Stats, error)         { return nil, nil }
func (fakeAPIStore) ListPosts(ctx context.Context, f store.PostFilter) ([]store.Post, error) {
	return nil, nil
}
func (fakeAPIStore) GetPost(ctx context.Context, id string) (*store.Post, error) { return nil, nil }
func (fakeAPIStore) GetAnalysis(ctx context.Context, postID string) (*store.Analysis, error) {
	return nil, nil
}
func (fakeAPIStore) ListDispatchRecords(ctx context.Context, postID string) ([]store.DispatchRecord, error) {
	return nil, nil
}

func newTestServer(coord Coordinator) *Server {
	return &Server{store: fakeAPIStore{}, coordinator: coord, pushSecret: testPushSecret}
}

func TestPushHandler_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"account": "alice"}`)
	coord := &fakeCoordinator{}
	s := newTestServer(coord)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/push", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.pushHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "alice", coord.lastAccount)
}

func TestPushHandler_RejectsBadSignature(t *testing.T) {
	body := []byte(`{"account": "alice"}`)
	s := newTestServer(&fakeCoordinator{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/push", bytes.NewReader(body))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.pushHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestPushHandler_UnknownShapeReturns400(t *testing.T) {
	body := []byte(`not json at all`)
	s := newTestServer(&fakeCoordinator{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/push", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.pushHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestPushHandler_UnmonitoredAccountReturns403(t *testing.T) {
	body := []byte(`{"account": "bob"}`)
	coord := &fakeCoordinator{handlePushErr: source.ErrUnknownAccount}
	s := newTestServer(coord)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/push", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.pushHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, he.Code)
}

func TestPushHandler_QueueFullReturns429(t *testing.T) {
	body := []byte(`{"account": "alice"}`)
	coord := &fakeCoordinator{handlePushErr: source.ErrQueueFull}
	s := newTestServer(coord)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/push", bytes.NewReader(body))
	req.Header.Set("X-Signature", sign(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.pushHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
}

func TestForcePollHandler_RequiresAccountParam(t *testing.T) {
	s := newTestServer(&fakeCoordinator{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/poll/force", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.forcePollHandler(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestForcePollHandler_BypassesCoalescing(t *testing.T) {
	coord := &fakeCoordinator{}
	s := newTestServer(coord)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/ingest/poll/force?account=alice", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.forcePollHandler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "alice", coord.lastAccount)
}
