package cmd

import (
	Qd "github.com/maroda/iqscope/display"
	"github.com/spf13/cobra"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Run the pipeline headless and serve it over HTTP",
	Long: `Run the pipeline without a terminal. Frames stream on /ws, the waterfall
image on /api/waterfall.png, counters on /api/status and /metrics, and
recorded frames on /api/frames when --record-path is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScope(cmd.Context(), Qd.StartWebNoTUI)
	},
}

func init() {
	rootCmd.AddCommand(webCmd)
}
