package main

import (
	"github.com/arloliu/go-directnet/directnet"
	"github.com/arloliu/go-directnet/logger"
	"github.com/arloliu/go-directnet/simdevice"
	"github.com/spf13/cobra"
)

type simFlags struct {
	Listen   string
	Protocol string
	Slaves   string
}

var simOpts simFlags

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run a software stand-in device",
	Long: `Serve in-memory PLCs over TCP, speaking either the wire protocol or the
ASCII simulator protocol. Point a "tcp" port of a dnctl configuration at it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		variant, err := directnet.ParseVariant(simOpts.Protocol)
		if err != nil {
			return err
		}
		slaves, err := parseSlaves(simOpts.Slaves)
		if err != nil {
			return err
		}

		opts := []simdevice.Option{simdevice.WithLogger(logger.GetLogger())}
		if len(slaves) > 0 {
			opts = append(opts, simdevice.WithSlaves(slaves...))
		}

		return simdevice.New(opts...).ListenAndServe(cmd.Context(), simOpts.Listen, variant)
	},
}

func init() {
	simCmd.Flags().StringVarP(&simOpts.Listen, "listen", "l", "127.0.0.1:4001", "TCP listen address")
	simCmd.Flags().StringVarP(&simOpts.Protocol, "protocol", "p", "sim", "protocol: wire|sim")
	simCmd.Flags().StringVar(&simOpts.Slaves, "slaves", "", "comma separated slave ids to answer (default: all)")
}
