package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

func newSendCmd(opts *options) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:       "send <type> <target>",
		Short:     "Send one signal to a user",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"incoming_call", "offer", "answer", "ice_candidate", "call_ended"},
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := signaling.Type(args[0])
			if !typ.Valid() {
				return fmt.Errorf("unknown signal type %q", args[0])
			}
			req := signaling.SendRequest{Type: typ, Target: args[1]}
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				req.Data = json.RawMessage(data)
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Send(cmd.Context(), req); err != nil {
				return err
			}
			if opts.json {
				return printer(cmd).JSON(signaling.SendResponse{Status: "sent"})
			}
			printer(cmd).Success("sent %s to %s", typ, req.Target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON payload")
	return cmd
}

func newPollCmd(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch pending signals once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := signaling.ParseMode(mode)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			msgs, err := client.Poll(cmd.Context(), m)
			if err != nil {
				return err
			}
			if opts.json {
				return printer(cmd).JSON(signaling.PollResponse{Signals: msgs})
			}
			printer(cmd).Messages(msgs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(signaling.ModeActive), "preview or active")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	var mode string
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream signals as they arrive",
		Long:  "Opens the relay push stream and prints each batch until interrupted or --count batches arrived.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := signaling.ParseMode(mode)
			if err != nil {
				return err
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stream, err := client.Stream(ctx, m)
			if err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				stream.Close()
			}()

			out := printer(cmd)
			spinner := out.NewSpinner("waiting for signals")
			if !opts.json {
				spinner.Start()
			}
			defer spinner.Stop()

			for seen := 0; count <= 0 || seen < count; seen++ {
				msgs, err := stream.Recv()
				if err != nil {
					if ctx.Err() != nil || errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("stream: %w", err)
				}
				spinner.Stop()
				if opts.json {
					if err := out.JSON(signaling.PollResponse{Signals: msgs}); err != nil {
						return err
					}
					continue
				}
				out.Messages(msgs)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", string(signaling.ModeActive), "preview or active")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many batches (0 runs until interrupted)")
	return cmd
}

func newEndCmd(opts *options) *cobra.Command {
	var req signaling.EndRequest
	cmd := &cobra.Command{
		Use:   "end",
		Short: "Purge your signals and optionally tell the peer the call ended",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			purged, err := client.End(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.json {
				return printer(cmd).JSON(signaling.EndResponse{Status: "ended", Purged: purged})
			}
			out := printer(cmd)
			out.Success("purged %d signal(s)", purged)
			if req.Target != "" {
				out.Info("notified %s", req.Target)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Target, "target", "t", "", "peer to notify with call_ended")
	cmd.Flags().StringVar(&req.CallID, "call-id", "", "call id carried in call_ended")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason carried in call_ended")
	return cmd
}
