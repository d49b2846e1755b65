package main

import (
	"fmt"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write <plc> <area> <address> <hex-data>",
	Short: "Write PLC memory",
	Long: `Write bytes starting at address to a writable PLC data area
(vmem, scratchpad or program). Data is given as hex, e.g. "0a0b" or "0a:0b".`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := parseArea(args[1])
		if err != nil {
			return err
		}
		addr, err := parseAddress(args[2])
		if err != nil {
			return err
		}
		data, err := parseData(args[3])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := openClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		status, err := client.Write(ctx, args[0], area, addr, data)
		if err != nil {
			return err
		}
		if status != directnet.Success {
			return fmt.Errorf("write %s %s@0x%04X: %w", args[0], area|directnet.WriteFlag, addr, status)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes\n", len(data))

		return nil
	},
}
