package httpfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/models"
)

func TestDiscoverParsesListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookmarks", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"item_id":"b-001","payload":{"url":"https://example.com/a"}},
			{"item_id":"b-002","payload":{"url":"https://example.com/b"}},
			{"payload":{"url":"https://example.com/orphan"}}
		]`))
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, "sekrit")
	got, err := s.Discover(context.Background())
	require.NoError(t, err)

	// The entry without an item_id is dropped.
	require.Len(t, got, 2)
	assert.Equal(t, "b-001", got[0].ItemID)
	assert.JSONEq(t, `{"url":"https://example.com/a"}`, string(got[0].RawPayload))
	assert.NotEmpty(t, got[0].ContentHash)
	assert.NotEqual(t, got[0].ContentHash, got[1].ContentHash)
}

func TestFetchReturnsPayloadAndMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bookmarks/b-001", r.URL.Path)
		w.Write([]byte(`{"payload":{"url":"https://example.com/a","text":"hi"},"media":["media/a.png"]}`))
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, "")
	payload, media, err := s.Fetch(context.Background(), &models.Item{ItemID: "b-001"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com/a","text":"hi"}`, string(payload))
	assert.Equal(t, []string{"media/a.png"}, media)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, "")
	got, err := s.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, "")
	_, _, err := s.Fetch(context.Background(), &models.Item{ItemID: "b-404"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewScraper(srv.URL, "")
	_, err := s.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(maxAttempts), calls.Load())
}
