package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardkeep/signal_layer/internal/app/storage/backends"
	"github.com/cardkeep/signal_layer/internal/cli"
	"github.com/cardkeep/signal_layer/internal/config"
	"github.com/cardkeep/signal_layer/internal/domain/signal"
	"github.com/cardkeep/signal_layer/pkg/signaling"
)

func newTokenCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "token <room>",
		Short: "Mint a hosted-media credential for a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := client.MediaToken(cmd.Context(), signaling.TokenRequest{Room: args[0], Name: name})
			if err != nil {
				return err
			}
			if opts.json {
				return printer(cmd).JSON(resp)
			}
			printCredential(printer(cmd), resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name embedded in the credential")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var callType, name string
	cmd := &cobra.Command{
		Use:   "call <target>",
		Short: "Start a hosted call and ring the target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ct := signaling.CallType(strings.ToLower(callType))
			if ct != signaling.CallAudio && ct != signaling.CallVideo {
				return fmt.Errorf("--type must be audio or video, got %q", callType)
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := client.StartHostedCall(cmd.Context(), signaling.HostedCallRequest{
				Target:   args[0],
				CallType: ct,
				Name:     name,
			})
			if err != nil {
				return err
			}
			if opts.json {
				return printer(cmd).JSON(resp)
			}
			out := printer(cmd)
			out.Success("ringing %s (%s call %s)", args[0], resp.CallType, resp.CallID)
			printCredential(out, resp.TokenResponse)
			return nil
		},
	}
	cmd.Flags().StringVar(&callType, "type", string(signaling.CallVideo), "audio or video")
	cmd.Flags().StringVar(&name, "name", "", "display name embedded in the credential")
	return cmd
}

func newICECmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ice",
		Short: "List STUN/TURN servers for peer-to-peer calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := client.ICEServers(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printer(cmd).JSON(resp)
			}
			out := printer(cmd)
			for _, s := range resp.ICEServers {
				if s.Username != "" {
					out.Info("%s (user %s)", strings.Join(s.URLs, ", "), s.Username)
					continue
				}
				out.Info("%s", strings.Join(s.URLs, ", "))
			}
			if resp.TTL > 0 {
				out.Info("credentials valid for %s", time.Duration(resp.TTL)*time.Second)
			}
			return nil
		},
	}
}

func printCredential(out *cli.Printer, resp signaling.TokenResponse) {
	out.Info("room:     %s", resp.Room)
	out.Info("identity: %s", resp.Identity)
	out.Info("url:      %s", resp.URL)
	out.Info("token:    %s", resp.Token)
}

// newReapCmd deletes expired signals straight from the store the relay is
// configured with, for deployments that run the reaper out of process.
func newReapCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired signals from the configured store",
		Long:  "Reads the relay configuration from the environment (and RELAY_CONFIG) and deletes every signal older than the mailbox TTL.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := backends.Open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store, err)
			}
			defer store.Close()

			cutoff := signal.Cutoff(time.Now())
			removed, err := store.Reap(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("reap: %w", err)
			}
			if opts.json {
				return printer(cmd).JSON(map[string]any{
					"store":   cfg.Store,
					"cutoff":  cutoff.UTC().Format(time.RFC3339),
					"removed": removed,
				})
			}
			printer(cmd).Success("removed %d expired signal(s) from %s store", removed, cfg.Store)
			return nil
		},
	}
}
