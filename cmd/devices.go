package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	Qp "github.com/maroda/iqscope/plugin"
	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List sound cards and RTL-SDR dongles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return ListDevices(cmd.OutOrStdout(), devicesJSON)
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(devicesCmd)
}

// ListDevices prints the capture devices compiled into this build
func ListDevices(out io.Writer, asJSON bool) error {
	audio, audioErr := Qp.ListAudioDevices()
	rtl, rtlErr := Qp.ListRTLDevices()

	if audioErr != nil && !errors.Is(audioErr, Qp.ErrSourceUnavailable) {
		return fmt.Errorf("audio devices: %w", audioErr)
	}
	if rtlErr != nil && !errors.Is(rtlErr, Qp.ErrSourceUnavailable) {
		return fmt.Errorf("rtl devices: %w", rtlErr)
	}

	if asJSON {
		return json.NewEncoder(out).Encode(map[string][]Qp.DeviceInfo{
			"audio": audio,
			"rtl":   rtl,
		})
	}

	printDevices(out, "Sound cards", audio, audioErr)
	printDevices(out, "RTL-SDR dongles", rtl, rtlErr)
	return nil
}

func printDevices(out io.Writer, title string, devices []Qp.DeviceInfo, err error) {
	fmt.Fprintf(out, "%s:\n", title)
	if err != nil {
		fmt.Fprintf(out, "  %v\n", err)
		return
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "  none found")
		return
	}
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(out, " %s%3d  %-40s in=%d  rate=%.0f\n",
			mark, d.Index, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
}
