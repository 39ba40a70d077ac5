package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var WhitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "List the commands allowed by execute_read",
	Long:  `List the read-only whitelist. Only the first word of a command is checked against it.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		c := dispatcher.Classifier()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Whitelisted commands (%d total):\n", c.Len())

		for _, g := range c.Groups() {
			fmt.Fprintf(out, "- %s: %s\n", g.Name, strings.Join(g.Commands, ", "))
		}
	},
}
