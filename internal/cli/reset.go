package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the store and start empty",
		Long: "Delete the history database and its version file, then create an empty store at the current schema. " +
			"This is the way out of a schema version mismatch or a store that fails to open.",
		Run: runReset,
	}

	cmd.Flags().Bool("yes", false, "Confirm deletion")

	RootCmd.AddCommand(cmd)
}

func runReset(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("reset", errors.New("this deletes all history, catalog and sessions; rerun with --yes"))
	}

	// The store may refuse to open; Reset works on it either way.
	s, err := store.Open(cmd.Context(), storeOptions(nil))
	if err != nil {
		slog.Info("store did not open, resetting anyway", "error", err)
	}
	defer s.Close()

	if err := s.Reset(cmd.Context()); err != nil {
		exitErr("reset", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"schema_version":%d}`+"\n", s.SchemaVersion())
}
