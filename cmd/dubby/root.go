package main

import (
	"github.com/spf13/cobra"

	"github.com/jonatasu/dubby/internal/config"
)

func newRootCommand() *cobra.Command {
	var overrides config.Overrides

	rootCmd := &cobra.Command{
		Use:           "dubby",
		Short:         "Media dubbing service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(overrides)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	flags.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	flags.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flags.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flags.StringVar(&overrides.OutputsDir, "outputs-dir", "", "Output directory (overrides OUTPUTS_DIR)")
	flags.StringVar(&overrides.VoiceClone, "voice-clone", "", "Voice clone mode: off, spectral, neural (overrides VOICE_CLONE_MODE)")

	return rootCmd
}
