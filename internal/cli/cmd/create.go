package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mangosqueezy/internal/cli/client"
	"mangosqueezy/pkg/api"
)

func NewCreateCommand(newClient func() (*client.Client, error)) *cobra.Command {
	var (
		file string
		req  api.CreatePipelineRequest
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign pipeline from a yaml file or flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			var resp *api.CreatePipelineResponse
			if file != "" {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read campaign file: %w", err)
				}
				resp, err = c.CreateFromYAML(content)
				if err != nil {
					return err
				}
			} else {
				if req.ProductID == "" {
					return fmt.Errorf("either --file or --product is required")
				}
				resp, err = c.Create(req)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created pipeline %s (%s)\n", resp.ID, resp.State)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "campaign yaml file")
	cmd.Flags().StringVar(&req.ProductID, "product", "", "product id")
	cmd.Flags().IntVar(&req.AffiliateCount, "affiliates", 5, "number of affiliates to reach")
	cmd.Flags().StringVar(&req.Description, "description", "", "product description for affiliate search")
	cmd.Flags().StringVar(&req.VideoScript, "script", "", "video script")
	cmd.Flags().StringVar(&req.OutreachMessage, "message", "", "outreach message template")
	return cmd
}
