package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/store"
)

func init() {
	openCmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Record that a file was opened",
		Long: "Record an access to a file. When the same content was seen before under another name, " +
			"--choice decides whether the two share settings (same), copy them (copy) or stay apart (different).",
		Args: cobra.ExactArgs(1),
		Run:  runOpen,
	}
	openCmd.Flags().String("name", "", "Display name (default: file name)")
	openCmd.Flags().String("key", "", "Content key, skips hashing the file")
	openCmd.Flags().String("choice", "", "For known content under a new name: same, copy, different")

	checkCmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Classify a file against history without recording it",
		Args:  cobra.ExactArgs(1),
		Run:   runCheck,
	}
	checkCmd.Flags().String("name", "", "Display name (default: file name)")
	checkCmd.Flags().String("key", "", "Content key, skips hashing the file")

	RootCmd.AddCommand(openCmd, checkCmd)
}

// resolveFile returns the absolute path, display name and content key for
// the file argument.
func resolveFile(cmd *cobra.Command, arg string) (path, name, key string, err error) {
	name, _ = cmd.Flags().GetString("name")
	key, _ = cmd.Flags().GetString("key")

	path, err = filepath.Abs(arg)
	if err != nil {
		return "", "", "", err
	}
	if name == "" {
		name = filepath.Base(path)
	}
	if key != "" {
		return path, name, identity.ExtractContentKey(key), nil
	}
	key, err = identity.KeyForFile(path, identity.NewXXHash())
	if err != nil {
		return "", "", "", fmt.Errorf("content key: %w", err)
	}
	return path, name, key, nil
}

func runOpen(cmd *cobra.Command, args []string) {
	path, name, key, err := resolveFile(cmd, args[0])
	if err != nil {
		exitErr("open", err)
	}
	choiceStr, _ := cmd.Flags().GetString("choice")

	a := mustOpen(cmd)
	defer a.Close()
	ctx := cmd.Context()

	res, err := a.store.CheckIdentity(ctx, key, name)
	if err != nil {
		exitErr("check identity", err)
	}

	var e *model.HistoryEntry
	if res.Status == store.DifferentName {
		if choiceStr == "" {
			printJSON(cmd.OutOrStdout(), res)
			exitErr("open", fmt.Errorf("content already recorded as %q; rerun with --choice same|copy|different", res.Existing.DisplayName))
		}
		choice, err := store.ParseChoice(choiceStr)
		if err != nil {
			exitErr("open", err)
		}
		e, err = a.store.RecordAccessWithChoice(ctx, store.AccessParams{ContentKey: key, Path: path, DisplayName: name}, *res.Existing, choice)
		if err != nil {
			exitErr("open", err)
		}
	} else {
		e, err = a.store.RecordAccess(ctx, key, path, name)
		if err != nil {
			exitErr("open", err)
		}
	}

	printJSON(cmd.OutOrStdout(), e)
}

func runCheck(cmd *cobra.Command, args []string) {
	_, name, key, err := resolveFile(cmd, args[0])
	if err != nil {
		exitErr("check", err)
	}

	a := mustOpen(cmd)
	defer a.Close()

	res, err := a.store.CheckIdentity(cmd.Context(), key, name)
	if err != nil {
		exitErr("check", err)
	}
	printJSON(cmd.OutOrStdout(), res)
}
