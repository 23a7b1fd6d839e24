package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/model"
)

func init() {
	memoCmd := &cobra.Command{
		Use:   "memo <id> [text]",
		Short: "Set or clear the memo on a history entry",
		Args:  cobra.MinimumNArgs(1),
		Run:   runMemo,
	}
	memoCmd.Flags().Bool("clear", false, "Remove the memo")

	viewCmd := &cobra.Command{
		Use:   "view <id>",
		Short: "Set or clear the saved reader position",
		Args:  cobra.ExactArgs(1),
		Run:   runView,
	}
	viewCmd.Flags().String("mode", "single", "View mode: single, spread, continuous, thumbnail")
	viewCmd.Flags().Int("page", 0, "Page number")
	viewCmd.Flags().String("direction", "ltr", "Reading direction: ltr, rtl")
	viewCmd.Flags().String("sort", "", "Sort method")
	viewCmd.Flags().Bool("reversed", false, "Reverse the sort")
	viewCmd.Flags().Bool("clear", false, "Forget the saved position")

	RootCmd.AddCommand(memoCmd, viewCmd)
}

func runMemo(cmd *cobra.Command, args []string) {
	clear, _ := cmd.Flags().GetBool("clear")

	var memo *string
	if !clear {
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			exitErr("memo", errors.New("memo text is required (or --clear)"))
		}
		memo = &text
	}

	a := mustOpen(cmd)
	defer a.Close()

	e, err := a.store.SetMemo(cmd.Context(), args[0], memo)
	if err != nil {
		exitErr("memo", err)
	}
	printJSON(cmd.OutOrStdout(), e)
}

func runView(cmd *cobra.Command, args []string) {
	clear, _ := cmd.Flags().GetBool("clear")

	var vs *model.ViewState
	if !clear {
		mode, _ := cmd.Flags().GetString("mode")
		page, _ := cmd.Flags().GetInt("page")
		dir, _ := cmd.Flags().GetString("direction")
		sortBy, _ := cmd.Flags().GetString("sort")
		rev, _ := cmd.Flags().GetBool("reversed")

		if !model.ValidViewModes[mode] {
			exitErr("view", fmt.Errorf("invalid mode %q", mode))
		}
		if !model.ValidDirections[dir] {
			exitErr("view", fmt.Errorf("invalid direction %q", dir))
		}
		if page < 0 {
			exitErr("view", fmt.Errorf("invalid page %d", page))
		}
		vs = &model.ViewState{Mode: mode, Page: page, Direction: dir, SortMethod: sortBy, SortReversed: rev}
	}

	a := mustOpen(cmd)
	defer a.Close()

	e, err := a.store.SetViewState(cmd.Context(), args[0], vs)
	if err != nil {
		exitErr("view", err)
	}
	printJSON(cmd.OutOrStdout(), e)
}
