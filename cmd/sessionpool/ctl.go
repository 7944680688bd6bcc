package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/aetherflow/sessionpool/internal/discovery"
	"github.com/aetherflow/sessionpool/internal/rpc"
)

type ctlOptions struct {
	addr    string
	etcd    []string
	service string
	timeout time.Duration
}

func newCtlCmd() *cobra.Command {
	opts := &ctlOptions{}

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running pool over gRPC",
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "127.0.0.1:9090", "gRPC control address")
	cmd.PersistentFlags().StringSliceVar(&opts.etcd, "etcd", nil, "resolve the gRPC address from these etcd endpoints instead of --addr")
	cmd.PersistentFlags().StringVar(&opts.service, "service", "sessionpool", "service name registered in etcd")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 45*time.Second, "request timeout")

	var id, endpoint string
	add := &cobra.Command{
		Use:   "add <credential>",
		Short: "Add a session",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, c *rpc.Client, args []string) (map[string]interface{}, error) {
			return c.Add(ctx, id, args[0], endpoint)
		}),
	}
	add.Flags().StringVar(&id, "id", "", "session id (generated when empty)")
	add.Flags().StringVar(&endpoint, "endpoint", "", "endpoint (server default when empty)")

	var only string
	status := &cobra.Command{
		Use:   "status",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, c *rpc.Client, _ []string) (map[string]interface{}, error) {
			return c.Status(ctx, only)
		}),
	}
	status.Flags().StringVar(&only, "id", "", "show one session")

	var forceID string
	force := &cobra.Command{
		Use:   "force <target>",
		Short: "Direct every active session (or one with --id) at target",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, c *rpc.Client, args []string) (map[string]interface{}, error) {
			return c.BroadcastForce(ctx, args[0], forceID)
		}),
	}
	force.Flags().StringVar(&forceID, "id", "", "only this session")

	var unforceID string
	unforce := &cobra.Command{
		Use:   "unforce",
		Short: "Clear force mode",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, c *rpc.Client, _ []string) (map[string]interface{}, error) {
			return c.ClearForce(ctx, unforceID)
		}),
	}
	unforce.Flags().StringVar(&unforceID, "id", "", "only this session")

	cmd.AddCommand(
		add,
		status,
		force,
		unforce,
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove a session",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(ctx context.Context, c *rpc.Client, args []string) (map[string]interface{}, error) {
				return c.Remove(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "send <id> <text>",
			Short: "Send one line through a session",
			Args:  cobra.ExactArgs(2),
			RunE: opts.run(func(ctx context.Context, c *rpc.Client, args []string) (map[string]interface{}, error) {
				return c.Send(ctx, args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop every session",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, c *rpc.Client, _ []string) (map[string]interface{}, error) {
				return c.StopAll(ctx)
			}),
		},
	)
	return cmd
}

type ctlFunc func(ctx context.Context, c *rpc.Client, args []string) (map[string]interface{}, error)

func (o *ctlOptions) run(fn ctlFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		defer cancel()

		addr, err := o.resolve(ctx)
		if err != nil {
			return err
		}
		client, err := rpc.Dial(addr)
		if err != nil {
			return err
		}
		defer client.Close()

		out, err := fn(ctx, client, args)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
}

func (o *ctlOptions) resolve(ctx context.Context) (string, error) {
	if len(o.etcd) == 0 {
		return o.addr, nil
	}
	r, err := discovery.NewResolver(&discovery.Config{
		Endpoints:   o.etcd,
		DialTimeout: 5 * time.Second,
	}, nil)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return r.GRPCAddr(ctx, o.service)
}
