package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"readback/api/internal/editor"
)

func newSyncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Keep the surface file and the server document in sync until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rs, err := openSession(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rs.Close()

			opts.logger.Info("editing", zap.String("surface", opts.cfg.SurfaceFile), zap.String("server", opts.cfg.ServerURL))
			<-ctx.Done()
			return nil
		},
	}
}

func newPlayCommand(opts *options) *cobra.Command {
	var (
		seconds int
		keep    bool
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Speak every text item, deleting each one after the interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("interval") {
				seconds = opts.cfg.PlaybackSeconds
			}
			if seconds < 1 || seconds > editor.MaxIntervalSeconds {
				return fmt.Errorf("--interval %d: %w", seconds, editor.ErrInvalidInterval)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rs, err := openSession(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rs.Close()

			if err := rs.session.Play(seconds); err != nil {
				return err
			}
			if err := waitPlayback(ctx, rs.session.Player()); err != nil {
				rs.session.StopPlayback()
				processed, total := rs.session.Player().Progress()
				fmt.Fprintf(cmd.OutOrStdout(), "stopped after %d of %d items\n", processed, total)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "playback complete")

			if keep {
				<-ctx.Done()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&seconds, "interval", 2, "seconds to wait after each item before deleting it (env READBACK_PLAYBACK_SECONDS)")
	cmd.Flags().BoolVar(&keep, "keep-syncing", false, "keep the session open after playback completes")
	return cmd
}

// waitPlayback blocks until the player is idle again or ctx is done.
func waitPlayback(ctx context.Context, player *editor.Player) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if player.State() == editor.StateIdle {
				return nil
			}
		}
	}
}

func newShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the server document and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := opts.client()
			out := cmd.OutOrStdout()

			status, err := remote.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "storage: %s (durable: %t)\n", status.Storage, status.Durable())
			if status.History != "" {
				fmt.Fprintf(out, "history: %s\n", status.History)
			}

			list, err := remote.Fetch(cmd.Context())
			if err != nil {
				return err
			}
			printList(out, list)
			return nil
		},
	}
}
