package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/conf"

	"github.com/aetherflow/sessionpool/internal/api/auth"
	"github.com/aetherflow/sessionpool/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		configFile string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <operator>",
		Short: "Issue a bearer token for the HTTP control API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c config.Config
			if err := conf.Load(configFile, &c); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if c.Auth.Secret == "" {
				return errors.New("auth secret is not configured")
			}

			token, err := auth.NewManager(c.Auth.Secret, c.Auth.Issuer).Generate(args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", defaultConfigFile, "the config file")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
