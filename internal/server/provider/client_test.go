package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangosqueezy/internal/common"
)

func newTestClient(url string) *Client {
	return NewClient(common.ProviderConfig{
		SearchURL:   url,
		OutreachURL: url,
		VideoURL:    url,
		PublishURL:  url,
		APIKey:      "secret-key",
		Actor:       "mangosqueezy",
		Timeout:     5 * time.Second,
	})
}

func TestSearchAffiliates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/affiliates", r.URL.Path)
		assert.Equal(t, "mango jam", r.URL.Query().Get("description"))
		assert.Equal(t, "2", r.URL.Query().Get("affiliate_count"))
		assert.Equal(t, "p1", r.URL.Query().Get("pipeline_id"))
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`{"affiliates":[{"handle":"@a","platform":"instagram","score":0.9},{"handle":"@b","platform":"x","score":0.7},{"handle":"@c","platform":"x","score":0.1}]}`))
	}))
	defer srv.Close()

	affiliates, err := newTestClient(srv.URL).SearchAffiliates(context.Background(), SearchRequest{
		Description:    "mango jam",
		AffiliateCount: 2,
		PipelineID:     "p1",
	})
	require.NoError(t, err)
	require.Len(t, affiliates, 2)
	assert.Equal(t, "@a", affiliates[0].Handle)
}

func TestSendOutreach(t *testing.T) {
	var got OutreachRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendOutreach(context.Background(), OutreachRequest{
		Message:    "hi",
		PipelineID: "p1",
		Handle:     "@a",
	})
	require.NoError(t, err)
	assert.Equal(t, "mangosqueezy", got.Actor)
	assert.Equal(t, "hi", got.Message)
	assert.Equal(t, "p1", got.PipelineID)
}

func TestGenerateVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req VideoRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "p1:VideoGenerate", req.CallbackID)
		w.Write([]byte(`{"error":null,"data":{"video_id":"abc123"}}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).GenerateVideo(context.Background(), VideoRequest{Script: "buy", CallbackID: "p1:VideoGenerate"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/video/generate" {
			w.Write([]byte(`{"data":{}}`))
			return
		}
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newTestClient(srv.URL)

	err := c.PublishVideo(context.Background(), PublishRequest{VideoID: "v"})
	require.ErrorIs(t, err, common.ErrProvider)
	assert.Contains(t, err.Error(), "429")

	_, err = c.GenerateVideo(context.Background(), VideoRequest{Script: "s"})
	assert.ErrorIs(t, err, common.ErrProvider)

	srv.Close()
	_, err = c.SearchAffiliates(context.Background(), SearchRequest{AffiliateCount: 1})
	assert.ErrorIs(t, err, common.ErrProvider)
}
