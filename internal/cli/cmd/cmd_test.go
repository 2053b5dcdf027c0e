package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangosqueezy/internal/common"
	"mangosqueezy/pkg/api"
)

type fakeAPI struct {
	lastContentType string
	lastBody        string
	lastAuth        string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, data any) {
		assert.NoError(t, json.NewEncoder(w).Encode(common.Response{Code: common.SuccessCode, Message: "success", Data: data}))
	}
	mux.HandleFunc("POST /pipelines", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.lastBody = string(body)
		f.lastContentType = r.Header.Get("Content-Type")
		f.lastAuth = r.Header.Get("Authorization")
		reply(w, api.CreatePipelineResponse{ID: "p-1", State: "created"})
	})
	mux.HandleFunc("POST /pipelines/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		reply(w, api.PipelineBrief{ID: r.PathValue("id"), State: "searching_affiliates"})
	})
	mux.HandleFunc("GET /pipelines", func(w http.ResponseWriter, r *http.Request) {
		reply(w, []api.PipelineBrief{{ID: "p-1", ProductID: "mango-jam", State: "outreaching", Remark: "reaching out"}})
	})
	mux.HandleFunc("GET /pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p-1" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(common.Response{Code: common.PipelineNotExists, Message: "pipeline not exists"})
			return
		}
		reply(w, api.PipelineDetail{PipelineBrief: api.PipelineBrief{ID: "p-1"}, HeygenVideoID: "abc123"})
	})
	return mux
}

func run(t *testing.T, serverURL string, args ...string) (string, error) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", serverURL, "--token", "tok"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCreateFromFile(t *testing.T) {
	f := &fakeAPI{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte("product_id: mango-jam\naffiliate_count: 5\n"), 0o600))

	out, err := run(t, srv.URL, "create", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "created pipeline p-1")
	assert.Equal(t, "application/yaml", f.lastContentType)
	assert.Equal(t, "Bearer tok", f.lastAuth)
	assert.Contains(t, f.lastBody, "affiliate_count: 5")
}

func TestCreateFromFlags(t *testing.T) {
	f := &fakeAPI{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	_, err := run(t, srv.URL, "create", "--product", "mango-jam", "--affiliates", "3", "--description", "jam")
	require.NoError(t, err)
	assert.Equal(t, "application/json", f.lastContentType)

	var req api.CreatePipelineRequest
	require.NoError(t, json.Unmarshal([]byte(f.lastBody), &req))
	assert.Equal(t, 3, req.AffiliateCount)

	_, err = run(t, srv.URL, "create")
	assert.Error(t, err)
}

func TestStartGetList(t *testing.T) {
	srv := httptest.NewServer((&fakeAPI{}).handler(t))
	defer srv.Close()

	out, err := run(t, srv.URL, "start", "--id", "p-1")
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline p-1 is searching_affiliates")

	out, err = run(t, srv.URL, "get", "--id", "p-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"heygen_video_id": "abc123"`)

	out, err = run(t, srv.URL, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "outreaching")

	_, err = run(t, srv.URL, "get", "--id", "nope")
	var e common.ErrNo
	require.ErrorAs(t, err, &e)
	assert.Equal(t, common.PipelineNotExists, e.ErrCode)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("MANGO_JWT_SECRET", "s3cret")
	out, err := run(t, "http://unused", "token", "--business", "biz-1")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	t.Setenv("MANGO_JWT_SECRET", "")
	_, err = run(t, "http://unused", "token", "--business", "biz-1")
	assert.Error(t, err)
}
