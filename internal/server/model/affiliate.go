package model

// Affiliate is a candidate outreach target returned by a search provider.
type Affiliate struct {
	Handle   string  `json:"handle"`
	Platform string  `json:"platform"`
	Score    float64 `json:"score"`
}
