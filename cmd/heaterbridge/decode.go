package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/heaterbridge/internal/heater"
	"github.com/srg/heaterbridge/internal/telemetry"
	"golang.org/x/term"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a captured status frame",
	Long: `Decode a status frame captured from the heater's ffe1 characteristic.

The frame is given as hex; spaces, colons and dashes between bytes are ignored.`,
	Example: `  heaterbridge decode "AA 55 01 01 00 03 00 0A 02 14 05 78 00 12 00 16 00 00"
  heaterbridge decode aa:55:01:01:00:03:00:0a:02:14:05:78:00:12:00:16:00:00 --paths`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

var (
	decodePaths    bool
	decodeInstance string
)

func init() {
	decodeCmd.Flags().BoolVar(&decodePaths, "paths", false, "Print the flattened telemetry paths instead of a table")
	decodeCmd.Flags().StringVar(&decodeInstance, "instance", "heater", "Heater instance used in telemetry paths")
}

// parseHexFrame accepts hex with optional separators and 0x prefixes.
func parseHexFrame(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex frame: %w", err)
	}
	return b, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	frame, err := parseHexFrame(args)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	rec, err := heater.Decode(frame)
	if err != nil {
		return fmt.Errorf("%d-byte frame: %w", len(frame), err)
	}

	out := cmd.OutOrStdout()
	if decodePaths {
		return printPaths(out, rec)
	}
	return printRecord(out, rec, colorEnabled(out))
}

// colorEnabled reports whether w is a terminal that accepts colour.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func newColor(enabled bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if enabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func printRecord(w io.Writer, rec heater.Record, useColor bool) error {
	key := newColor(useColor, color.Bold)
	on := newColor(useColor, color.FgGreen)
	off := newColor(useColor, color.FgYellow)
	state := newColor(useColor, color.FgCyan)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for pair := rec.Fields().Oldest(); pair != nil; pair = pair.Next() {
		value := fmt.Sprint(pair.Value)
		switch pair.Key {
		case "runstatus":
			if rec.RunStatus == heater.On {
				value = on.Sprint(value)
			} else {
				value = off.Sprint(value)
			}
		case "runningstate":
			value = state.Sprint(value)
		case "supplyvoltage":
			value = fmt.Sprintf("%.2f V", rec.SupplyVoltage)
		case "targettemp", "heatingchambertemp", "roomtemp":
			value = fmt.Sprintf("%v K (%d °C)", pair.Value, pair.Value.(int)-273)
		}
		fmt.Fprintf(tw, "%s\t%s\n", key.Sprint(pair.Key), value)
	}
	fmt.Fprintf(tw, "%s\t% X\n", key.Sprint("reserved"), rec.Reserved[:])
	return tw.Flush()
}

func printPaths(w io.Writer, rec heater.Record) error {
	for _, pv := range telemetry.Flatten(rec, telemetry.BasePath(decodeInstance)) {
		if _, err := fmt.Fprintf(w, "%s = %v\n", pv.Path, pv.Value); err != nil {
			return err
		}
	}
	return nil
}
