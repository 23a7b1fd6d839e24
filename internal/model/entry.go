// Package model defines the persisted history, catalog and session types.
package model

import "time"

// ViewState is the reader position and layout last used for an entry.
type ViewState struct {
	Mode         string `json:"mode"`
	Page         int    `json:"page"`
	Direction    string `json:"direction"`
	SortMethod   string `json:"sort_method"`
	SortReversed bool   `json:"sort_reversed"`
}

// HistoryEntry is one opened file, keyed by display name + content key.
type HistoryEntry struct {
	ID          string     `json:"id"`
	ContentKey  string     `json:"content_key"`
	SettingsRef string     `json:"settings_ref,omitempty"`
	Path        string     `json:"path"`
	DisplayName string     `json:"display_name"`
	LastAccess  time.Time  `json:"last_access"`
	AccessCount int        `json:"access_count"`
	Memo        *string    `json:"memo,omitempty"`
	ViewState   *ViewState `json:"view_state,omitempty"`
}

// HasRef reports whether the entry points at another entry's settings.
func (e HistoryEntry) HasRef() bool {
	return e.SettingsRef != "" && e.SettingsRef != e.ID
}

// Annotation is a user mark on a page.
type Annotation struct {
	Page  int     `json:"page"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Text  string  `json:"text,omitempty"`
	Color string  `json:"color,omitempty"`
}

// Settings is the display/annotation payload that entries can share.
type Settings struct {
	PageLayout      string            `json:"page_layout,omitempty"`
	ReadingDir      string            `json:"reading_direction,omitempty"`
	FitMode         string            `json:"fit_mode,omitempty"`
	Zoom            float64           `json:"zoom,omitempty"`
	Brightness      float64           `json:"brightness,omitempty"`
	SinglePageFirst bool              `json:"single_page_first,omitempty"`
	Bookmarks       []int             `json:"bookmarks,omitempty"`
	Annotations     []Annotation      `json:"annotations,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// CatalogEntry is an individually catalogued image, keyed by content key alone.
type CatalogEntry struct {
	ContentKey  string    `json:"content_key"`
	Path        string    `json:"path"`
	DisplayName string    `json:"display_name"`
	LastAccess  time.Time `json:"last_access"`
	AccessCount int       `json:"access_count"`
	Memo        *string   `json:"memo,omitempty"`
}

// Geometry is a window frame in screen coordinates.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionItem is one window of a saved session.
type SessionItem struct {
	Path       string    `json:"path"`
	ContentKey string    `json:"content_key"`
	PageNumber int       `json:"page_number"`
	Geometry   *Geometry `json:"geometry,omitempty"`
}

// SessionGroup is a named, ordered set of windows.
type SessionGroup struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	CreatedAt  time.Time     `json:"created_at"`
	LastAccess time.Time     `json:"last_access"`
	Items      []SessionItem `json:"items"`
}

// ValidViewModes are the accepted ViewState.Mode values.
var ValidViewModes = map[string]bool{
	"single":     true,
	"spread":     true,
	"continuous": true,
	"thumbnail":  true,
}

// ValidDirections are the accepted ViewState.Direction values.
var ValidDirections = map[string]bool{
	"ltr": true,
	"rtl": true,
}
