package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/studio/internal/tracing"
	"github.com/spf13/cobra"
)

var (
	analyzeProject string
	analyzeSource  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <query>",
	Short: "Ask the data analysis agent about a CSV source",
	Long: `Run the data analysis agent on one CSV source and print its summary.
Charts it creates are saved with the project's AI images.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeProject, "project", "p", "", "project id")
	analyzeCmd.Flags().StringVarP(&analyzeSource, "source", "s", "", "CSV source id")
	_ = analyzeCmd.MarkFlagRequired("project")
	_ = analyzeCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withAgents(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = tracing.NewRequestContext(ctx)

	result := a.csv.Analyze(ctx, analyzeProject, analyzeSource, strings.Join(args, " "))
	if !result.Success {
		return fmt.Errorf("analysis failed: %s", result.Error)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Summary)
	for _, name := range result.ImagePaths {
		fmt.Fprintf(out, "chart: %s\n", a.projectPath(analyzeProject, "ai-images", name))
	}
	return nil
}
