package miniflux

import "time"

// Entry statuses as the server reports them.
const (
	StatusUnread  = "unread"
	StatusRead    = "read"
	StatusRemoved = "removed"
)

// Entry is the subset of server entry fields required by the engine.
type Entry struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	Starred     bool      `json:"starred"`
	PublishedAt time.Time `json:"published_at"`
	Feed        *Feed     `json:"feed,omitempty"`
}

// Feed describes the subscription an entry belongs to.
type Feed struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Category *Category `json:"category,omitempty"`
}

// Category groups feeds.
type Category struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// FeedID returns the entry's feed id, or zero when the server omitted it.
func (e Entry) FeedID() int64 {
	if e.Feed == nil {
		return 0
	}
	return e.Feed.ID
}

// CategoryID returns the entry's category id, or zero when unknown.
func (e Entry) CategoryID() int64 {
	if e.Feed == nil || e.Feed.Category == nil {
		return 0
	}
	return e.Feed.Category.ID
}

// Filter selects entries for ListEntries. Zero values mean "no constraint".
type Filter struct {
	Statuses   []string
	FeedID     int64
	CategoryID int64
	Search     string
	Starred    bool
	Order      string
	Direction  string
	Limit      int

	// Unix seconds; used by adjacent-entry navigation.
	PublishedBefore int64
	PublishedAfter  int64
}

// EntryList is the server's paged listing envelope.
type EntryList struct {
	Total   int     `json:"total"`
	Entries []Entry `json:"entries"`
}
