package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mangosqueezy/internal/cli/client"
)

// NewRootCommand builds the mango cli. Global flags fall back to MANGO_* environment variables.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MANGO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "mango",
		Short:         "Manage affiliate campaign pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", "https://localhost:8080", "API server url")
	root.PersistentFlags().String("token", "", "business bearer token")
	root.PersistentFlags().String("ca-cert", "", "CA certificate for the server")
	_ = v.BindPFlags(root.PersistentFlags())

	newClient := func() (*client.Client, error) {
		return client.New(v.GetString("server"), v.GetString("token"), v.GetString("ca-cert"))
	}
	RegisterCommands(root, newClient, v)
	return root
}

// RegisterCommands adds all available commands to the root command
func RegisterCommands(root *cobra.Command, newClient func() (*client.Client, error), v *viper.Viper) {
	root.AddCommand(NewCreateCommand(newClient))
	root.AddCommand(NewStartCommand(newClient))
	root.AddCommand(NewGetCommand(newClient))
	root.AddCommand(NewListCommand(newClient))
	root.AddCommand(NewTokenCommand(v))
}

func printJSON(w io.Writer, v any) error {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(formatted))
	return err
}
