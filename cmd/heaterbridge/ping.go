package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/heaterbridge/internal/heater"
)

// pingCmd represents the ping command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Print the command frame written to the heater",
	Long: `Print the keep-alive frame the bridge writes every poll interval, or any
other command frame built from --command, --arg1 and --arg2.`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

var (
	pingCommand uint8
	pingArg1    uint8
	pingArg2    uint8
)

func init() {
	pingCmd.Flags().Uint8Var(&pingCommand, "command", heater.CmdPing, "Command byte")
	pingCmd.Flags().Uint8Var(&pingArg1, "arg1", 0, "First argument byte")
	pingCmd.Flags().Uint8Var(&pingArg2, "arg2", 0, "Second argument byte")
}

func runPing(cmd *cobra.Command, _ []string) error {
	frame := heater.NewCommandFrame(pingCommand, pingArg1, pingArg2)
	b := frame.Bytes()
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "% X\nchecksum 0x%02X\n", b, b[len(b)-1])
	return err
}
