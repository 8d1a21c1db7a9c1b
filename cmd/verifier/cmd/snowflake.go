package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pilab-dev/discord-verifier/discord"
	"github.com/spf13/cobra"
)

var snowflakeCmd = &cobra.Command{
	Use:   "snowflake <id>...",
	Short: "Decode Discord snowflake ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tWORKER\tPROCESS\tINCREMENT")
		for _, id := range args {
			sf, err := discord.DecodeSnowflake(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
				sf.ID, sf.CreatedAt.Format(discord.ISO8601Millis), sf.WorkerID, sf.ProcessID, sf.Increment)
		}
		return w.Flush()
	},
}

var flagsCmd = &cobra.Command{
	Use:   "flags <value>",
	Short: "List the badges encoded in a user's flags value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid flags value %q: %w", args[0], err)
		}
		labels := discord.DecodeFlags(value)
		if len(labels) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "None")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(labels, "\n"))
		return nil
	},
}
