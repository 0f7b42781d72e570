// Copyright © 2025 Deskview contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/deskview/main.go
// Summary: Remote desktop viewer command.
// Usage: `deskview connect [address]` attaches to a host; `deskview sessions`
//   lists remembered sessions.

package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("deskview command failed")
		return 1
	}
	return 0
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "deskview",
		Short:         "Remote desktop viewer for the terminal",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "path to config file")

	root.AddCommand(newConnectCmd(&g))
	root.AddCommand(newSessionsCmd(&g))
	root.AddCommand(newForgetCmd(&g))
	root.AddCommand(newConfigCmd(&g))
	return root
}
