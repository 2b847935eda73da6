package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/certsweep/internal/targets"
)

var targetsCount bool

var targetsCmd = &cobra.Command{
	Use:   "targets RANGE",
	Short: "Print the addresses a range expands to",
	Long: `Expand RANGE exactly as scan would and print one address per line,
without probing anything.`,
	Example: `  certsweep targets 192.168.1.0/24
  certsweep targets 10.0.0.5-10.0.0.9
  certsweep targets 172.16.4.* --count`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTargets(cmd.OutOrStdout(), args[0], targetsCount)
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.Flags().BoolVar(&targetsCount, "count", false, "print only the number of addresses")
}

func runTargets(w io.Writer, spec string, countOnly bool) error {
	list, err := targets.ParseTargets(spec)
	if err != nil {
		return err
	}
	if countOnly {
		_, err = fmt.Fprintln(w, len(list))
		return err
	}
	for _, address := range list {
		if _, err := fmt.Fprintln(w, address); err != nil {
			return err
		}
	}
	return nil
}
