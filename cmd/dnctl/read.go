package main

import (
	"encoding/hex"
	"fmt"

	"github.com/arloliu/go-directnet/directnet"
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <plc> <area> <address> <length>",
	Short: "Read PLC memory",
	Long: `Read length bytes starting at address from a PLC data area.

Areas: vmem, inputs, outputs, scratchpad, program, status, or a numeric
operation code. Address and length accept decimal or 0x-prefixed hex.`,
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
		length, err := parseLength(args[3])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := openClient(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeClient(client)

		buf := make([]byte, length)
		status, err := client.Read(ctx, args[0], area, addr, buf)
		if err != nil {
			return err
		}
		if status != directnet.Success {
			return fmt.Errorf("read %s %s@0x%04X: %w", args[0], area, addr, status)
		}

		fmt.Fprint(cmd.OutOrStdout(), hex.Dump(buf))

		return nil
	},
}
