package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jonatasu/dubby/internal/config"
)

type commandContext struct {
	serverFlag  *string
	tokenFlag   *string
	envFileFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = config.Load(config.Overrides{EnvFile: strings.TrimSpace(*c.envFileFlag)})
	})
	return c.config, c.configErr
}

// client builds an API client from flags, falling back to HTTP_ADDR and
// AUTH_TOKEN from the environment.
func (c *commandContext) client() (*apiClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	base := strings.TrimSpace(*c.serverFlag)
	if base == "" {
		base = serverURL(cfg.HTTPAddr)
	}
	token := *c.tokenFlag
	if token == "" {
		token = cfg.AuthToken
	}
	return newAPIClient(base, token), nil
}

// serverURL turns a listen address into a client URL.
func serverURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "http://localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}

func newRootCommand() *cobra.Command {
	var serverFlag, tokenFlag, envFileFlag string
	ctx := &commandContext{
		serverFlag:  &serverFlag,
		tokenFlag:   &tokenFlag,
		envFileFlag: &envFileFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "dubctl",
		Short:         "Submit and inspect dubbing jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "dubby server URL (default derived from HTTP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API bearer token (default AUTH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Path to .env file (default .env)")

	rootCmd.AddCommand(newProcessCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newJobCommand(ctx))
	rootCmd.AddCommand(newPruneCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newProfileCommand(ctx))

	return rootCmd
}
