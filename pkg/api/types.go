package api

// CreatePipelineRequest mirrors the campaign yaml; json bodies use the same keys.
type CreatePipelineRequest struct {
	ProductID       string `json:"product_id"`
	AffiliateCount  int    `json:"affiliate_count"`
	Description     string `json:"description"`
	VideoScript     string `json:"video_script"`
	OutreachMessage string `json:"outreach_message"`
}

type CreatePipelineResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}
