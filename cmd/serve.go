package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/byessilyurt/polish-legal-assistant/server"
)

var (
	servePort      int
	serveKnowledge []string
	serveTimeout   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket chat API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringSliceVar(&serveKnowledge, "knowledge", nil, "knowledge files to index before serving")
	serveCmd.Flags().DurationVar(&serveTimeout, "request-timeout", 2*time.Minute, "timeout for a single chat request")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.preload(ctx, serveKnowledge); err != nil {
		return err
	}

	collector, err := a.newCollector(ctx)
	if err != nil {
		return err
	}
	service, err := a.newService(collector)
	if err != nil {
		return err
	}

	port := a.config.Server.Port
	if servePort > 0 {
		port = servePort
	}

	srv := server.New(server.Config{
		Port:           port,
		CORSOrigins:    a.config.Server.CORSOrigins,
		RequestTimeout: serveTimeout,
	}, service, collector, a.logger.Named("server"))

	a.logger.Info("starting server",
		zap.Int("port", port),
		zap.String("version", server.Version),
		zap.String("provider", a.config.LLM.Provider),
		zap.String("model", a.config.LLM.Model))

	return srv.ListenAndServe(ctx)
}
