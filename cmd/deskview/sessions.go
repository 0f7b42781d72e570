// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/deskview/sessions.go
// Summary: Inspect and edit the remembered-session registry.

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/framegrace/deskview/config"
	"github.com/framegrace/deskview/internal/sessionstore"
)

const addressColumn = 32

func openStore(ctx context.Context, g *globalFlags) (*sessionstore.Store, error) {
	cfg, err := config.Load(ctx, g.config)
	if err != nil {
		return nil, err
	}
	if cfg.SessionDB == "" {
		return nil, fmt.Errorf("no session_db configured")
	}
	return sessionstore.Open(cfg.SessionDB)
}

func newSessionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List remembered sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeSessions(cmd.OutOrStdout(), records)
		},
	}
}

func writeSessions(out io.Writer, records []sessionstore.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no remembered sessions")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTION\tSESSION\tADDRESS\tDESKTOP\tRECEIVED\tFRAMES\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%s\t%s\t%s\n",
			r.ConnectionID,
			r.SessionID.String()[:8],
			runewidth.Truncate(r.Address, addressColumn, "…"),
			r.Width, r.Height,
			humanize.IBytes(r.BytesRx),
			humanize.Comma(int64(r.Frames)),
			humanize.Time(r.UpdatedAt),
		)
	}
	return tw.Flush()
}

func newForgetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <connection-id>...",
		Short: "Drop remembered sessions so the next connect starts fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, id := range args {
				if err := store.Forget(cmd.Context(), id); err != nil {
					return fmt.Errorf("forget %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", id)
			}
			return nil
		},
	}
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), g.config)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
