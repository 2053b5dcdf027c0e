package client

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"mangosqueezy/internal/common"
	"mangosqueezy/pkg/api"
)

type Client struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// New builds a client for serverURL. caCertPath may be empty to use the system pool.
func New(serverURL, token, caCertPath string) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caCertPath != "" {
		caCert, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("read ca cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse ca cert %s", caCertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		token:      token,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) CreateFromYAML(content []byte) (*api.CreatePipelineResponse, error) {
	var out api.CreatePipelineResponse
	return &out, c.do(http.MethodPost, "/pipelines", "application/yaml", bytes.NewReader(content), &out)
}

func (c *Client) Create(req api.CreatePipelineRequest) (*api.CreatePipelineResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var out api.CreatePipelineResponse
	return &out, c.do(http.MethodPost, "/pipelines", "application/json", bytes.NewReader(body), &out)
}

func (c *Client) Start(id string) (*api.PipelineBrief, error) {
	var out api.PipelineBrief
	return &out, c.do(http.MethodPost, "/pipelines/"+id+"/start", "", nil, &out)
}

func (c *Client) Get(id string) (*api.PipelineDetail, error) {
	var out api.PipelineDetail
	return &out, c.do(http.MethodGet, "/pipelines/"+id, "", nil, &out)
}

func (c *Client) List() ([]api.PipelineBrief, error) {
	var out []api.PipelineBrief
	return out, c.do(http.MethodGet, "/pipelines", "", nil, &out)
}

func (c *Client) do(method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if env.Code != common.SuccessCode {
		return common.ErrNo{ErrCode: env.Code, ErrMsg: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
