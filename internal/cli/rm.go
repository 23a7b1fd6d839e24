package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rmCmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a history entry",
		Long:  "Delete one entry by id, or with --key every entry for a piece of content.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runRm,
	}
	rmCmd.Flags().StringP("key", "k", "", "Delete every entry with this content key")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole history",
		Run:   runClear,
	}
	clearCmd.Flags().Bool("yes", false, "Confirm")

	resetCountsCmd := &cobra.Command{
		Use:   "reset-counts",
		Short: "Set every access count back to one",
		Run:   runResetCounts,
	}

	RootCmd.AddCommand(rmCmd, clearCmd, resetCountsCmd)
}

func runRm(cmd *cobra.Command, args []string) {
	key, _ := cmd.Flags().GetString("key")
	if (len(args) == 0) == (key == "") {
		exitErr("rm", errors.New("give exactly one of an id or --key"))
	}

	a := mustOpen(cmd)
	defer a.Close()
	ctx := cmd.Context()

	if key != "" {
		n, err := a.store.RemoveByContentKey(ctx, key)
		if err != nil {
			exitErr("rm", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"removed":%d}`+"\n", n)
		return
	}

	if err := a.store.RemoveEntry(ctx, args[0]); err != nil {
		exitErr("rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func runClear(cmd *cobra.Command, args []string) {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		exitErr("clear", errors.New("refusing to delete history without --yes"))
	}

	a := mustOpen(cmd)
	defer a.Close()

	n, err := a.store.ClearAll(cmd.Context())
	if err != nil {
		exitErr("clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"removed":%d}`+"\n", n)
}

func runResetCounts(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	if err := a.store.ResetAccessCounts(cmd.Context()); err != nil {
		exitErr("reset-counts", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
}
