package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/studio/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	sourceProject string
	sourceID      string
	sourceName    string
	sourceText    string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage project sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add a file to a project's sources",
	Long: `Copy a file into a project's sources and register it in the source index.
The file's contents are also stored as its processed text unless --text points
at a separate extracted text file.`,
	Args: cobra.ExactArgs(1),
	RunE: runSourceAdd,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's sources",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

func init() {
	sourceCmd.PersistentFlags().StringVarP(&sourceProject, "project", "p", "", "project id")
	_ = sourceCmd.MarkPersistentFlagRequired("project")
	sourceAddCmd.Flags().StringVar(&sourceID, "id", "", "source id (generated when empty)")
	sourceAddCmd.Flags().StringVar(&sourceName, "name", "", "display name (default is the file name)")
	sourceAddCmd.Flags().StringVar(&sourceText, "text", "", "file holding the extracted text")

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	rootCmd.AddCommand(sourceCmd)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	text := string(raw)
	if sourceText != "" {
		data, err := os.ReadFile(sourceText)
		if err != nil {
			return fmt.Errorf("failed to read source text: %w", err)
		}
		text = string(data)
	}

	id := sourceID
	if id == "" {
		if id, err = newID(); err != nil {
			return fmt.Errorf("failed to generate source id: %w", err)
		}
	}
	name := sourceName
	if name == "" {
		name = filepath.Base(path)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	src := storage.Source{
		ID:            id,
		Name:          name,
		FileExtension: strings.TrimPrefix(filepath.Ext(path), "."),
	}
	if err := a.storage.AddSource(cmd.Context(), sourceProject, src, raw, text); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added source %s (%s) to %s\n", id, name, a.projectPath(sourceProject, "sources"))
	return nil
}

func runSourceList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sources, err := a.storage.ListSources(sourceProject)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sources")
		return nil
	}
	for _, src := range sources {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n", src.ID, src.Name, src.Size)
	}
	return nil
}
