package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/store"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

// entryView is a history entry as listed, with its accessibility when known.
type entryView struct {
	model.HistoryEntry
	Accessible *bool `json:"accessible,omitempty"`
}

func renderEntries(w io.Writer, entries []entryView, format string) {
	if format != "text" {
		if entries == nil {
			entries = []entryView{}
		}
		printJSON(w, entries)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCOUNT\tLAST ACCESS\tFLAGS")
	for _, e := range entries {
		flags := ""
		if e.HasRef() {
			flags += "shared "
		}
		if e.Memo != nil {
			flags += "memo "
		}
		if e.Accessible != nil && !*e.Accessible {
			flags += "missing "
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.DisplayName, e.AccessCount, e.LastAccess.Local().Format(time.DateTime), flags)
	}
	tw.Flush()
}

func renderStats(w io.Writer, st *store.Stats, format string) {
	if format != "text" {
		printJSON(w, st)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "database\t%s\n", st.DBPath)
	fmt.Fprintf(tw, "size\t%s\n", humanize.IBytes(uint64(st.DBSizeBytes)))
	fmt.Fprintf(tw, "initialized\t%t\n", st.Initialized)
	fmt.Fprintf(tw, "schema version\t%d\n", st.SchemaVersion)
	fmt.Fprintf(tw, "history\t%d / %d\n", st.HistoryEntries, st.MaxHistory)
	fmt.Fprintf(tw, "shared settings\t%d\n", st.SharedSettings)
	fmt.Fprintf(tw, "total accesses\t%d\n", st.TotalAccesses)
	fmt.Fprintf(tw, "catalog\t%d\n", st.CatalogEntries)
	fmt.Fprintf(tw, "session groups\t%d\n", st.SessionGroups)
	tw.Flush()
}
