package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// CampaignConfig is the definition a business submits to create a pipeline. It is read as
// yaml, which also accepts the json form of the same keys.
type CampaignConfig struct {
	ProductID       string `yaml:"product_id" json:"product_id"`
	AffiliateCount  int    `yaml:"affiliate_count" json:"affiliate_count"`
	Description     string `yaml:"description" json:"description"`
	VideoScript     string `yaml:"video_script" json:"video_script"`
	OutreachMessage string `yaml:"outreach_message" json:"outreach_message"`
}

const maxAffiliateCount = 100

func ParseCampaignConfig(content []byte) (*CampaignConfig, error) {
	var config CampaignConfig
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *CampaignConfig) Validate() error {
	if strings.TrimSpace(c.ProductID) == "" {
		return fmt.Errorf("product_id is required")
	}
	if c.AffiliateCount < 1 || c.AffiliateCount > maxAffiliateCount {
		return fmt.Errorf("affiliate_count must be between 1 and %d", maxAffiliateCount)
	}
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

// RenderOutreach fills the outreach template for one affiliate.
func RenderOutreach(template string, a Affiliate) string {
	if template == "" {
		template = "Hi {{handle}}, we'd love to partner with you on {{platform}}."
	}
	return strings.NewReplacer("{{handle}}", a.Handle, "{{platform}}", a.Platform).Replace(template)
}
