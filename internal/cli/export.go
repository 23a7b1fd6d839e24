package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/prefs"
	"github.com/rcliao/pageledger/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export history as JSON",
		Long:  "Export every history entry with its resolved settings. Writes to stdout unless -o is given.",
		Run:   runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("output")

	a := mustOpen(cmd)
	defer a.Close()

	doc, err := a.store.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	if out == "" {
		if err := store.EncodeDocument(cmd.OutOrStdout(), doc); err != nil {
			exitErr("export", err)
		}
		return
	}

	var buf bytes.Buffer
	if err := store.EncodeDocument(&buf, doc); err != nil {
		exitErr("export", err)
	}
	if err := prefs.AtomicWriteFile(out, buf.Bytes(), 0o644); err != nil {
		exitErr("export", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d entries to %s\n", doc.EntryCount, out)
}
