package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Send one digest and exit",
	Annotations: map[string]string{annotationSends: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunOnce(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Send digests on the configured schedule",
	Annotations: map[string]string{annotationSends: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render the digest to stdout without sending it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Preview(cmd.Context())
	},
}
