package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import history from JSON",
		Long: "Import an export document from a file or stdin. Older export formats are upgraded. " +
			"merge keeps existing entries and only takes new memos; replace discards the current history first.",
		Args: cobra.MaximumNArgs(1),
		Run:  runImport,
	}

	cmd.Flags().String("mode", "merge", "Import mode: merge or replace")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	modeStr, _ := cmd.Flags().GetString("mode")
	mode, err := store.ParseImportMode(modeStr)
	if err != nil {
		exitErr("import", err)
	}

	var data []byte
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	a := mustOpen(cmd)
	defer a.Close()

	res := a.store.ImportData(cmd.Context(), data, mode)
	printJSON(cmd.OutOrStdout(), res)
	if !res.Success {
		a.Close()
		os.Exit(1)
	}
}
