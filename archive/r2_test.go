package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	appconfig "lane-battle/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	got, err := Endpoint(appconfig.ArchiveConfig{AccountID: "acc123"})
	require.NoError(t, err)
	assert.Equal(t, "https://acc123.r2.cloudflarestorage.com", got)

	got, err = Endpoint(appconfig.ArchiveConfig{AccountID: "acc123", Endpoint: "http://minio:9000"})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000", got)

	_, err = Endpoint(appconfig.ArchiveConfig{})
	assert.Error(t, err)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), appconfig.ArchiveConfig{AccountID: "acc"})
	assert.ErrorIs(t, err, ErrNoBucket)
}

func TestPutJSON(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotType string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := New(context.Background(), appconfig.ArchiveConfig{
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "battle-results",
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)

	err = store.PutJSON(context.Background(), "results/1/42.json", map[string]any{"winner": "A"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/battle-results/results/1/42.json", gotPath)
	assert.Equal(t, "application/json", gotType)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "A", decoded["winner"])
}
