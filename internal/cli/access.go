package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/access"
)

func init() {
	cmd := &cobra.Command{
		Use:   "access [path...]",
		Short: "Check which files are reachable",
		Long:  "With paths, check each one. Without, sweep every path in history and report the missing ones.",
		Run:   runAccess,
	}

	RootCmd.AddCommand(cmd)
}

type accessResult struct {
	Path       string `json:"path"`
	Accessible bool   `json:"accessible"`
}

func runAccess(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		p, err := filepath.Abs(arg)
		if err != nil {
			exitErr("access", err)
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		paths = access.Paths(a.store.Entries())
		a.cache.StartSweep(cmd.Context(), paths)
		a.cache.Wait()
	}

	out := make([]accessResult, 0, len(paths))
	for _, p := range paths {
		out = append(out, accessResult{Path: p, Accessible: a.cache.IsAccessible(p)})
	}
	printJSON(cmd.OutOrStdout(), out)
}
