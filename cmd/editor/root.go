package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"readback/api/internal/client"
	"readback/api/internal/config"
	"readback/api/internal/logging"
)

type options struct {
	cfg    config.Editor
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	var (
		serverURL   string
		surfaceFile string
		logLevel    string
		speechCmd   string
	)

	root := &cobra.Command{
		Use:          "readback-editor",
		Short:        "Edit a readback document from an HTML file and play it aloud",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg = config.LoadEditor()
			flags := cmd.Flags()
			if flags.Changed("server") {
				opts.cfg.ServerURL = serverURL
			}
			if flags.Changed("surface") {
				opts.cfg.SurfaceFile = surfaceFile
			}
			if flags.Changed("log-level") {
				opts.cfg.LogLevel = logLevel
			}
			if flags.Changed("speech") {
				opts.cfg.SpeechCommand = speechCmd
			}

			logger, err := logging.New(opts.cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&serverURL, "server", "", "content server base URL (env READBACK_SERVER_URL)")
	pf.StringVar(&surfaceFile, "surface", "", "HTML file used as the editable surface (env READBACK_SURFACE_FILE)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVar(&speechCmd, "speech", "", "speech program, the text is passed as last argument (env READBACK_SPEECH_COMMAND)")

	root.AddCommand(newSyncCommand(opts))
	root.AddCommand(newPlayCommand(opts))
	root.AddCommand(newShowCommand(opts))
	return root
}

func (o *options) client() *client.Client {
	return client.New(o.cfg.ServerURL, client.WithLogger(o.logger))
}
