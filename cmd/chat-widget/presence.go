package main

import (
	"fmt"

	"chat-widget/internal/model"
	"chat-widget/internal/widget"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Print agent availability changes without opening the chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		w, err := widget.Open(ctx, cfg, logger, registerer())
		if err != nil {
			return err
		}
		defer w.Close()

		out := cmd.OutOrStdout()
		var last *bool
		unsubscribe := w.Subscribe(func(s model.State) {
			online := s.Presence.AgentsOnline
			if online == nil || (last != nil && *last == *online) {
				return
			}
			v := *online
			last = &v
			if v {
				fmt.Fprintln(out, "agents online")
			} else {
				fmt.Fprintln(out, "agents offline")
			}
		})
		defer unsubscribe()

		release := w.WatchPresence(ctx)
		defer release()

		if err := w.Start(ctx); err != nil {
			return err
		}

		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error { return serveMetrics(egCtx, metricsAddr) })
		eg.Go(func() error {
			<-egCtx.Done()
			return nil
		})
		return eg.Wait()
	},
}
