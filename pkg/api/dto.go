package api

type PipelineBrief struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	AffiliateCount int    `json:"affiliate_count"`
	State          string `json:"state"`
	Remark         string `json:"remark"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type StepJobDetail struct {
	StepKind       string `json:"step_kind"`
	Target         string `json:"target,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	AttemptCount   int    `json:"attempt_count"`
	ErrorKind      string `json:"error_kind,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

type PipelineDetail struct {
	PipelineBrief
	HeygenVideoID string          `json:"heygen_video_id,omitempty"`
	VideoURL      string          `json:"video_url,omitempty"`
	Jobs          []StepJobDetail `json:"jobs"`
}
