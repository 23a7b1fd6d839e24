package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/notify"
	"github.com/rcliao/pageledger/internal/session"
)

func init() {
	groupCmd := &cobra.Command{
		Use:   "group",
		Short: "Save and restore multi-window sessions",
	}

	saveCmd := &cobra.Command{
		Use:   "save <name> <path...>",
		Short: "Save the given files as a named session",
		Long:  "Save files as a session, in window order. Each window starts at the page last read for that file.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runGroupSave,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, most recent first",
		Run:   runGroupList,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		Run:   runGroupRm,
	}

	renameCmd := &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a saved session",
		Args:  cobra.ExactArgs(2),
		Run:   runGroupRename,
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Reopen every window of a saved session",
		Long: "Reopen a saved session through the session queue. Windows open at most --concurrency at a time; " +
			"the first one reuses the current window. Each opened file is recorded in history.",
		Args: cobra.ExactArgs(1),
		Run:  runGroupRestore,
	}
	restoreCmd.Flags().Int("concurrency", 0, "Windows loading at once (default: from config)")

	groupCmd.AddCommand(saveCmd, listCmd, rmCmd, renameCmd, restoreCmd)
	RootCmd.AddCommand(groupCmd)
}

func runGroupSave(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	known := a.store.Entries()
	items := make([]model.SessionItem, 0, len(args)-1)
	for _, arg := range args[1:] {
		path, err := filepath.Abs(arg)
		if err != nil {
			exitErr("group save", err)
		}
		key, err := identity.KeyForFile(path, identity.NewXXHash())
		if err != nil {
			exitErr("group save", fmt.Errorf("content key for %s: %w", path, err))
		}
		items = append(items, model.SessionItem{Path: path, ContentKey: key, PageNumber: lastPage(known, path, key)})
	}

	g, err := a.store.SaveGroup(cmd.Context(), args[0], items)
	if err != nil {
		exitErr("group save", err)
	}
	printJSON(cmd.OutOrStdout(), g)
}

// lastPage is the saved page of the most recent entry for key at path, or
// of any entry for key.
func lastPage(entries []model.HistoryEntry, path, key string) int {
	page := -1
	for _, e := range entries {
		if e.ContentKey != key || e.ViewState == nil {
			continue
		}
		if e.Path == path {
			return e.ViewState.Page
		}
		if page < 0 {
			page = e.ViewState.Page
		}
	}
	if page < 0 {
		return 0
	}
	return page
}

func runGroupList(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	groups, err := a.store.Groups(cmd.Context())
	if err != nil {
		exitErr("group list", err)
	}
	if formatFlag == "text" {
		for _, g := range groups {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d windows)\n", g.ID, g.Name, len(g.Items))
		}
		return
	}
	if groups == nil {
		groups = []model.SessionGroup{}
	}
	printJSON(cmd.OutOrStdout(), groups)
}

func runGroupRm(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	if err := a.store.RemoveGroup(cmd.Context(), args[0]); err != nil {
		exitErr("group rm", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"removed":%q}`+"\n", args[0])
}

func runGroupRename(cmd *cobra.Command, args []string) {
	a := mustOpen(cmd)
	defer a.Close()

	if err := a.store.RenameGroup(cmd.Context(), args[0], args[1]); err != nil {
		exitErr("group rename", err)
	}
	g, err := a.store.Group(cmd.Context(), args[0])
	if err != nil {
		exitErr("group rename", err)
	}
	printJSON(cmd.OutOrStdout(), g)
}

// restoredWindow is the outcome of one restored request.
type restoredWindow struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Target string `json:"target"`
	Page   int    `json:"page"`
	Entry  string `json:"entry,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runGroupRestore(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("concurrency")
	if limit <= 0 {
		limit = cfg.Concurrency
	}

	a := mustOpen(cmd)
	defer a.Close()
	ctx := cmd.Context()

	g, err := a.store.Group(ctx, args[0])
	if err != nil {
		exitErr("group restore", err)
	}
	if g == nil {
		exitErr("group restore", fmt.Errorf("group %s not found", args[0]))
	}
	if len(g.Items) == 0 {
		exitErr("group restore", errors.New("group has no windows"))
	}

	var (
		mu      sync.Mutex
		results []restoredWindow
		ready   = make(chan struct{})
		once    sync.Once
	)
	a.bus.Subscribe(func(e notify.Event) {
		switch e.Kind {
		case notify.ProgressUpdated:
			slog.Info("restoring", "processed", e.Processed, "total", e.Total)
		case notify.AllWindowsReady:
			once.Do(func() { close(ready) })
		}
	})

	var q *session.Queue
	q = session.New(func(req session.Request, target session.Target) {
		go func() {
			defer q.WindowLoaded(req.ID)
			w := restoreWindow(ctx, a, req, target)
			mu.Lock()
			results = append(results, w)
			mu.Unlock()
		}()
	},
		session.WithLimit(limit),
		session.WithDebounce(cfg.Debounce),
		session.WithNotifier(a.bus),
		session.WithLogger(slog.Default()),
	)
	defer q.Close()

	queued, err := q.Enqueue(session.RequestsFromGroup(*g)...)
	if err != nil {
		exitErr("group restore", err)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		exitErr("group restore", ctx.Err())
	}

	if err := a.store.TouchGroup(ctx, g.ID); err != nil {
		slog.Warn("touch group", "id", g.ID, "error", err)
	}

	mu.Lock()
	defer mu.Unlock()
	printJSON(cmd.OutOrStdout(), restoredOrder(queued, results))
}

// restoreWindow records the access for one window and moves it to its
// saved page. Failures are reported in the result; the window still counts
// as loaded.
func restoreWindow(ctx context.Context, a *app, req session.Request, target session.Target) restoredWindow {
	w := restoredWindow{ID: req.ID, Path: req.Path, Target: target.String(), Page: req.PageNumber}

	if !a.cache.IsAccessible(req.Path) {
		w.Error = "file not accessible"
		return w
	}
	key := req.ContentKey
	if key == "" {
		k, err := identity.KeyForFile(req.Path, identity.NewXXHash())
		if err != nil {
			w.Error = err.Error()
			return w
		}
		key = k
	}

	e, err := a.store.RecordAccess(ctx, key, req.Path, filepath.Base(req.Path))
	if err != nil {
		w.Error = err.Error()
		return w
	}
	w.Entry = e.ID

	vs := model.ViewState{Mode: "single", Direction: "ltr"}
	if e.ViewState != nil {
		vs = *e.ViewState
	}
	vs.Page = req.PageNumber
	if _, err := a.store.SetViewState(ctx, e.ID, &vs); err != nil {
		w.Error = err.Error()
	}
	return w
}

// restoredOrder puts results back into window order.
func restoredOrder(queued []session.Request, results []restoredWindow) []restoredWindow {
	byID := make(map[string]restoredWindow, len(results))
	for _, w := range results {
		byID[w.ID] = w
	}
	out := make([]restoredWindow, 0, len(results))
	for _, r := range queued {
		if w, ok := byID[r.ID]; ok {
			out = append(out, w)
		}
	}
	return out
}
