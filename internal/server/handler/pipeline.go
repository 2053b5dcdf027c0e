package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/middleware"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/pkg/api"
)

type PipelineService interface {
	Create(ctx context.Context, businessID string, cfg *model.CampaignConfig) (*model.Pipeline, error)
	Start(ctx context.Context, businessID, id string) (*model.Pipeline, error)
	Get(ctx context.Context, businessID, id string) (*model.Pipeline, []*model.StepJob, error)
	List(ctx context.Context, businessID string) ([]*model.Pipeline, error)
}

type PipelineHandler struct {
	svc PipelineService
}

func NewPipelineHandler(svc PipelineService) *PipelineHandler {
	return &PipelineHandler{svc: svc}
}

// CreatePipeline accepts the campaign as yaml or json.
func (h *PipelineHandler) CreatePipeline(c *gin.Context) {
	content, err := c.GetRawData()
	if err != nil || len(content) == 0 {
		common.Error(c, common.ErrRequestInvalid)
		return
	}
	cfg, err := model.ParseCampaignConfig(content)
	if err != nil {
		_ = c.Error(err)
		common.Error(c, fmt.Errorf("%v: %w", err, common.ErrRequestInvalid))
		return
	}

	p, err := h.svc.Create(c, middleware.BusinessID(c), cfg)
	if err != nil {
		_ = c.Error(err)
		common.Error(c, err)
		return
	}
	common.Success(c, api.CreatePipelineResponse{ID: p.ID, State: string(p.State)})
}

func (h *PipelineHandler) StartPipeline(c *gin.Context) {
	p, err := h.svc.Start(c, middleware.BusinessID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		common.Error(c, err)
		return
	}
	common.Success(c, brief(p))
}

func (h *PipelineHandler) ListPipelines(c *gin.Context) {
	pipelines, err := h.svc.List(c, middleware.BusinessID(c))
	if err != nil {
		_ = c.Error(err)
		common.Error(c, err)
		return
	}
	resp := make([]api.PipelineBrief, 0, len(pipelines))
	for _, p := range pipelines {
		resp = append(resp, brief(p))
	}
	common.Success(c, resp)
}

func (h *PipelineHandler) GetPipeline(c *gin.Context) {
	p, jobs, err := h.svc.Get(c, middleware.BusinessID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		common.Error(c, err)
		return
	}
	detail := api.PipelineDetail{
		PipelineBrief: brief(p),
		HeygenVideoID: p.HeygenVideoID,
		VideoURL:      p.VideoURL,
		Jobs:          make([]api.StepJobDetail, 0, len(jobs)),
	}
	for _, j := range jobs {
		detail.Jobs = append(detail.Jobs, api.StepJobDetail{
			StepKind:       string(j.StepKind),
			Target:         j.Target,
			IdempotencyKey: j.IdempotencyKey,
			Status:         string(j.Status),
			AttemptCount:   j.AttemptCount,
			ErrorKind:      j.ErrorKind,
			UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
		})
	}
	common.Success(c, detail)
}

func brief(p *model.Pipeline) api.PipelineBrief {
	return api.PipelineBrief{
		ID:             p.ID,
		ProductID:      p.ProductID,
		AffiliateCount: p.AffiliateCount,
		State:          string(p.State),
		Remark:         p.Remark,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      p.UpdatedAt.Format(time.RFC3339),
	}
}
