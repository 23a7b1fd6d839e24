package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/access"
	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/store"
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List history, most recent first",
		Run:   runList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	listCmd.Flags().Bool("check", false, "Check whether each file is still accessible")
	listCmd.Flags().Bool("ids-only", false, "Only output entry ids")

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search history by name, path or memo",
		Args:  cobra.ExactArgs(1),
		Run:   runSearch,
	}
	searchCmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(listCmd, searchCmd)
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	check, _ := cmd.Flags().GetBool("check")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a := mustOpen(cmd)
	defer a.Close()

	entries := a.store.Entries()
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	if idsOnly {
		for _, e := range entries {
			fmt.Fprintln(cmd.OutOrStdout(), e.ID)
		}
		return
	}

	if check {
		a.cache.StartSweep(cmd.Context(), access.Paths(entries))
		a.cache.Wait()
	}
	renderEntries(cmd.OutOrStdout(), viewsOf(entries, a.cache, check), formatFlag)
}

func viewsOf(entries []model.HistoryEntry, cache *access.Cache, withAccess bool) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{HistoryEntry: e}
		if withAccess {
			ok := cache.IsAccessible(e.Path)
			v.Accessible = &ok
		}
		out = append(out, v)
	}
	return out
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpen(cmd)
	defer a.Close()

	entries, err := a.store.Search(cmd.Context(), store.SearchParams{Query: args[0], Limit: limit})
	if err != nil {
		exitErr("search", err)
	}
	renderEntries(cmd.OutOrStdout(), viewsOf(entries, a.cache, false), formatFlag)
}
