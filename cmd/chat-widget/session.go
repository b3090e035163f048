package main

import (
	"fmt"

	"chat-widget/internal/service/session"
	"chat-widget/internal/store"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or clear the persisted widget session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted customer and chat session ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		s, err := store.Open(cmd.Context(), cfg.Store, cfg.StoreNamespace())
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		for _, key := range []string{store.KeyCustomerSession, store.KeyChatSession} {
			value, ok, err := s.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !ok {
				value = "-"
			}
			fmt.Fprintf(out, "%s\t%s\n", key, value)
		}
		return nil
	},
}

var clearAll bool

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the chat binding (and with --all the customer session)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		s, err := store.Open(cmd.Context(), cfg.Store, cfg.StoreNamespace())
		if err != nil {
			return err
		}
		defer s.Close()

		// Clearing needs no backend calls.
		mgr := session.New(nil, s, logger)
		if clearAll {
			err = mgr.Forget(cmd.Context())
		} else {
			err = mgr.Clear(cmd.Context())
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
		return nil
	},
}

func init() {
	sessionClearCmd.Flags().BoolVar(&clearAll, "all", false, "also forget the customer session")
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd)
}
