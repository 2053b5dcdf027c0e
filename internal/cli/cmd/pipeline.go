package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mangosqueezy/internal/cli/client"
)

func NewStartCommand(newClient func() (*client.Client, error)) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a created pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			p, err := c.Start(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s is %s\n", p.ID, p.State)
			return nil
		},
	}
	cmd.Flags().StringVarP(&id, "id", "i", "", "pipeline id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func NewGetCommand(newClient func() (*client.Client, error)) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a pipeline with its step jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			p, err := c.Get(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().StringVarP(&id, "id", "i", "", "pipeline id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func NewListCommand(newClient func() (*client.Client, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			pipelines, err := c.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRODUCT\tSTATE\tREMARK")
			for _, p := range pipelines {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.ProductID, p.State, p.Remark)
			}
			return w.Flush()
		},
	}
}
