package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Recompute mangled content keys",
		Long: "Recompute content keys that were stored in a corrupted form, using the files on disk. " +
			"Entries whose files cannot be read are skipped and can be repaired by a later run.",
		Run: runRepair,
	}

	RootCmd.AddCommand(cmd)
}

func runRepair(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	res, err := a.store.RepairKeys(cmd.Context())
	if err != nil {
		exitErr("repair", err)
	}
	printJSON(cmd.OutOrStdout(), res)
}
