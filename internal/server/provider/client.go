// Package provider calls the external affiliate search, outreach and video services.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/model"
)

const maxErrorBody = 512

type Client struct {
	httpClient *http.Client
	cfg        common.ProviderConfig
}

func NewClient(cfg common.ProviderConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

type SearchRequest struct {
	Description    string
	AffiliateCount int
	PipelineID     string
}

type searchResponse struct {
	Affiliates []model.Affiliate `json:"affiliates"`
}

type OutreachRequest struct {
	Actor      string `json:"actor"`
	Message    string `json:"message"`
	PipelineID string `json:"pipelineId"`
	Handle     string `json:"handle"`
	Platform   string `json:"platform"`
}

type VideoRequest struct {
	Script string `json:"script"`
	// CallbackID is echoed back by the video provider's completion webhook.
	CallbackID string `json:"callback_id"`
}

type videoResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

type PublishRequest struct {
	VideoID    string `json:"videoId"`
	VideoURL   string `json:"videoUrl"`
	PipelineID string `json:"pipelineId"`
}

func (c *Client) SearchAffiliates(ctx context.Context, req SearchRequest) ([]model.Affiliate, error) {
	q := url.Values{}
	q.Set("description", req.Description)
	q.Set("affiliate_count", strconv.Itoa(req.AffiliateCount))
	q.Set("pipeline_id", req.PipelineID)

	var resp searchResponse
	if err := c.do(ctx, http.MethodGet, c.cfg.SearchURL+"/affiliates?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("search affiliates: %w", err)
	}
	if len(resp.Affiliates) > req.AffiliateCount {
		resp.Affiliates = resp.Affiliates[:req.AffiliateCount]
	}
	return resp.Affiliates, nil
}

func (c *Client) SendOutreach(ctx context.Context, req OutreachRequest) error {
	if req.Actor == "" {
		req.Actor = c.cfg.Actor
	}
	if err := c.do(ctx, http.MethodPost, c.cfg.OutreachURL+"/messages", req, nil); err != nil {
		return fmt.Errorf("send outreach to %s: %w", req.Handle, err)
	}
	return nil
}

func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (string, error) {
	var resp videoResponse
	if err := c.do(ctx, http.MethodPost, c.cfg.VideoURL+"/v2/video/generate", req, &resp); err != nil {
		return "", fmt.Errorf("generate video: %w", err)
	}
	if resp.Data.VideoID == "" {
		return "", fmt.Errorf("generate video: empty video id: %w", common.ErrProvider)
	}
	return resp.Data.VideoID, nil
}

func (c *Client) PublishVideo(ctx context.Context, req PublishRequest) error {
	if err := c.do(ctx, http.MethodPost, c.cfg.PublishURL+"/videos", req, nil); err != nil {
		return fmt.Errorf("publish video %s: %w", req.VideoID, err)
	}
	return nil
}

// do sends body as json and decodes a 2xx response into out when out is non-nil.
// Every failure wraps common.ErrProvider.
func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrProvider, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status %d: %s", common.ErrProvider, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", common.ErrProvider, err)
	}
	return nil
}
