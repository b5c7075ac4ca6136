package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agencies", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{{"id": "a1", "name": "acme"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var out []map[string]string
	require.NoError(t, c.Get("/agencies", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "acme", out[0]["name"])
}

func TestClient_SendsSecretHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shh", r.Header.Get("X-SECRET"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "shh")
	require.NoError(t, c.Delete("/agency/foo"))
}

func TestClient_ErrorResponseUnwrapsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(apiError{Error: "not_found", Message: "agency not found"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.Get("/agency/missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agency not found")
}

func TestClient_PostEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "worker", body["agentType"])
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "agent-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var out map[string]string
	require.NoError(t, c.Post("/agency/a1/agents", map[string]any{"agentType": "worker"}, &out))
	assert.Equal(t, "agent-1", out["id"])
}
