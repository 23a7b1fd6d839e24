package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage individually catalogued images",
	}

	addCmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Record an image in the catalog",
		Args:  cobra.ExactArgs(1),
		Run:   runCatalogAdd,
	}
	addCmd.Flags().String("name", "", "Display name (default: file name)")
	addCmd.Flags().String("key", "", "Content key, skips hashing the file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued images, most recent first",
		Run:   runCatalogList,
	}
	listCmd.Flags().IntP("limit", "l", 0, "Max results (0 = all)")

	rmCmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a catalog entry",
		Args:  cobra.ExactArgs(1),
		Run:   runCatalogRm,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every catalog entry",
		Run:   runCatalogClear,
	}
	clearCmd.Flags().Bool("yes", false, "Confirm deletion")

	memoCmd := &cobra.Command{
		Use:   "memo <key> [text]",
		Short: "Set or clear the memo on a catalog entry",
		Args:  cobra.MinimumNArgs(1),
		Run:   runCatalogMemo,
	}
	memoCmd.Flags().Bool("clear", false, "Remove the memo")

	catalogCmd.AddCommand(addCmd, listCmd, rmCmd, clearCmd, memoCmd)
	RootCmd.AddCommand(catalogCmd)
}

func runCatalogAdd(cmd *cobra.Command, args []string) {
	path, name, key, err := resolveFile(cmd, args[0])
	if err != nil {
		exitErr("catalog add", err)
	}

	a := mustOpen(cmd)
	defer a.Close()

	c, err := a.store.RecordCatalog(cmd.Context(), key, path, name)
	if err != nil {
		exitErr("catalog add", err)
	}
	printJSON(cmd.OutOrStdout(), c)
}

func runCatalogList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpen(cmd)
	defer a.Close()

	entries, err := a.store.CatalogEntries(cmd.Context(), limit)
	if err != nil {
		exitErr("catalog list", err)
	}
	if formatFlag == "text" {
		for _, c := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d)\n", c.ContentKey, c.DisplayName, c.AccessCount)
		}
		return
	}
	if entries == nil {
		printJSON(cmd.OutOrStdout(), []any{})
		return
	}
	printJSON(cmd.OutOrStdout(), entries)
}

func runCatalogRm(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	if err := a.store.RemoveCatalog(cmd.Context(), args[0]); err != nil {
		exitErr("catalog rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"removed":%q}`+"\n", args[0])
}

func runCatalogClear(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("catalog clear", errors.New("rerun with --yes to delete every catalog entry"))
	}

	a := mustOpen(cmd)
	defer a.Close()

	n, err := a.store.ClearCatalog(cmd.Context())
	if err != nil {
		exitErr("catalog clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"removed":%d}`+"\n", n)
}

func runCatalogMemo(cmd *cobra.Command, args []string) {
	clear, _ := cmd.Flags().GetBool("clear")

	var memo *string
	if !clear {
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			exitErr("catalog memo", errors.New("memo text is required (or --clear)"))
		}
		memo = &text
	}

	a := mustOpen(cmd)
	defer a.Close()

	if err := a.store.SetCatalogMemo(cmd.Context(), args[0], memo); err != nil {
		exitErr("catalog memo", err)
	}
	c, err := a.store.CatalogEntry(cmd.Context(), args[0])
	if err != nil {
		exitErr("catalog memo", err)
	}
	printJSON(cmd.OutOrStdout(), c)
}
