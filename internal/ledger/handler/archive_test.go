package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/archive"
	"github.com/uav-ledger/uavledger/internal/ledger/handler"
)

type fakeVersionStore struct {
	versions map[string][]archive.Version
	bodies   map[string][]byte
}

func (f *fakeVersionStore) ListVersions(_ context.Context, missionID string) ([]archive.Version, error) {
	return f.versions[missionID], nil
}

func (f *fakeVersionStore) GetVersion(_ context.Context, missionID, versionID string) ([]byte, error) {
	body, ok := f.bodies[missionID+"/"+versionID]
	if !ok {
		return nil, errors.New("no such version")
	}
	return body, nil
}

func setupArchiveRouter(t *testing.T, store *fakeVersionStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handler.NewArchiveHandler(store, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r
}

func TestListArchiveVersions_200(t *testing.T) {
	store := &fakeVersionStore{
		versions: map[string][]archive.Version{
			"flight-001": {
				{VersionID: "v1", LastModified: time.Now().Add(-time.Hour), Size: 100},
				{VersionID: "v2", LastModified: time.Now(), Size: 250},
			},
		},
	}
	router := setupArchiveRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flights/flight-001/archive/versions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("expected 2 versions, got %v", resp["count"])
	}
}

func TestListArchiveVersions_emptyIsNotNull(t *testing.T) {
	router := setupArchiveRouter(t, &fakeVersionStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flights/flight-001/archive/versions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if _, ok := resp["versions"].([]any); !ok {
		t.Errorf("expected empty array, got %v", resp["versions"])
	}
}

func TestGetArchiveVersion_200(t *testing.T) {
	store := &fakeVersionStore{
		bodies: map[string][]byte{"flight-001/v1": []byte("raw log bytes")},
	}
	router := setupArchiveRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flights/flight-001/archive/versions/v1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "raw log bytes" {
		t.Errorf("unexpected body: %q", w.Body.String())
	}
}

func TestGetArchiveVersion_404(t *testing.T) {
	router := setupArchiveRouter(t, &fakeVersionStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flights/flight-001/archive/versions/v9", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
