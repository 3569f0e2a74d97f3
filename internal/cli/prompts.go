package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Show agent prompt configs",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents and the model settings they resolve to",
	Long: `List every agent with the model, token limit and iteration budget it
runs with after prompt overrides and config overrides are applied.`,
	Args: cobra.NoArgs,
	RunE: runPromptsList,
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	rootCmd.AddCommand(promptsCmd)
}

func runPromptsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tMODEL\tMAX TOKENS\tMAX ITERATIONS")
	for _, name := range a.prompts.Names() {
		pc, err := a.prompts.Get(name)
		if err != nil {
			return err
		}
		pc = pc.WithOverride(a.cfg.Override(name))
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", name, pc.Model, pc.MaxTokens, pc.MaxIterations)
	}
	return w.Flush()
}
