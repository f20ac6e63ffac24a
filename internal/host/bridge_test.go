package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBridgeSearch(t *testing.T) {
	var got searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history/search", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(searchResponse{Items: []HistoryItem{
			{URL: "https://example.com/a"},
			{URL: "https://example.com/b"},
		}})
	}))
	defer server.Close()

	b := NewBridgeClient(server.URL, 5*time.Second)
	items, err := b.Search(context.Background(), "example.com", time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "example.com", got.Text)
	require.Zero(t, got.StartTime)
	require.Equal(t, 100, got.MaxResults)
}

func TestBridgeDeleteURL(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b := NewBridgeClient(server.URL, 5*time.Second)
	require.NoError(t, b.DeleteURL(context.Background(), "https://example.com/a"))
	require.Equal(t, "https://example.com/a", got["url"])
}

func TestBridgeRemove(t *testing.T) {
	var got removeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/browsing-data/remove", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b := NewBridgeClient(server.URL, 5*time.Second)
	err := b.Remove(context.Background(), []string{"example.com", "www.example.com"}, DataSet{Cookies: true})
	require.NoError(t, err)
	require.Equal(t, []string{"example.com", "www.example.com"}, got.Hostnames)
	require.True(t, got.DataTypes.Cookies)
	require.False(t, got.DataTypes.Cache)
}

func TestBridgeNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	b := NewBridgeClient(server.URL, 5*time.Second)
	err := b.DeleteURL(context.Background(), "https://example.com/a")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bridge returned")
}

func TestCronAlarmsRegistry(t *testing.T) {
	a := NewCronAlarms()

	require.NoError(t, a.Create("periodic:abc", 30*time.Minute, 30*time.Minute))
	exists, err := a.Exists("periodic:abc")
	require.NoError(t, err)
	require.True(t, exists)

	// Re-creating replaces the schedule without duplicating the entry.
	require.NoError(t, a.Create("periodic:abc", time.Hour, time.Hour))
	infos, err := a.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, time.Hour, infos[0].Period)

	require.NoError(t, a.Clear("periodic:abc"))
	exists, err = a.Exists("periodic:abc")
	require.NoError(t, err)
	require.False(t, exists)

	// Clearing an unknown alarm is a no-op.
	require.NoError(t, a.Clear("periodic:missing"))
}
