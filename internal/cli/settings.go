package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/model"
)

func init() {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write view settings",
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show the settings that apply to an entry",
		Args:  cobra.ExactArgs(1),
		Run:   runSettingsGet,
	}

	setCmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Replace the settings of an entry (and everything sharing them)",
		Long:  "Replace settings from --json or stdin. Entries that share settings all see the change.",
		Args:  cobra.ExactArgs(1),
		Run:   runSettingsSet,
	}
	setCmd.Flags().String("json", "", "Settings as JSON (default: read stdin)")

	detachCmd := &cobra.Command{
		Use:   "detach <id>",
		Short: "Give an entry its own copy of shared settings",
		Args:  cobra.ExactArgs(1),
		Run:   runSettingsDetach,
	}

	settingsCmd.AddCommand(getCmd, setCmd, detachCmd)
	RootCmd.AddCommand(settingsCmd)
}

type settingsView struct {
	ID       string          `json:"id"`
	Owner    string          `json:"owner"`
	Settings *model.Settings `json:"settings"`
}

func runSettingsGet(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()
	ctx := cmd.Context()

	owner, err := a.store.SettingsOwner(ctx, args[0])
	if err != nil {
		exitErr("settings", err)
	}
	st, err := a.store.LoadSettings(ctx, args[0])
	if err != nil {
		exitErr("settings", err)
	}
	printJSON(cmd.OutOrStdout(), settingsView{ID: args[0], Owner: owner, Settings: st})
}

func runSettingsSet(cmd *cobra.Command, args []string) {
	raw, _ := cmd.Flags().GetString("json")
	data := []byte(raw)
	if raw == "" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		data = b
	}
	if len(data) == 0 {
		exitErr("settings", errors.New("settings JSON is required"))
	}

	var st model.Settings
	if err := json.Unmarshal(data, &st); err != nil {
		exitErr("parse json", err)
	}

	a := mustOpen(cmd)
	defer a.Close()

	if err := a.store.SaveSettings(cmd.Context(), args[0], st); err != nil {
		exitErr("settings", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", args[0])
}

func runSettingsDetach(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	e, err := a.store.DetachSettings(cmd.Context(), args[0])
	if err != nil {
		exitErr("detach", err)
	}
	printJSON(cmd.OutOrStdout(), e)
}
