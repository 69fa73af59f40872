package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.1.0"

type options struct {
	cfgFile string
	output  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "xtchd",
		Short: "xtchd - tamper-evident hash-chained content store",
		Long: `xtchd chains every row of its content tables to the row before it with
SHA-256, enforces the chain inside the database, and verifies it on read.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file path (defaults and XTCHD_* environment when empty)")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(opts),
		newMigrateCmd(opts),
		newAddCmd(opts),
		newHeadCmd(opts),
		newStatusCmd(opts),
		newVerifyCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xtchd %s\n", version)
			fmt.Fprintln(cmd.OutOrStdout(), "Tamper-evident hash-chained content store")
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
