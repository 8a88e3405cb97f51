package karakeep

// Tag is one tag attached to a bookmark.
type Tag struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AttachedBy string `json:"attachedBy,omitempty"`
}

// BookmarkContent is the typed content of a bookmark; this service only ever
// creates link bookmarks but reads whatever is there.
type BookmarkContent struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Bookmark is the remote service's bookmark shape.
type Bookmark struct {
	ID         string          `json:"id"`
	Title      string          `json:"title,omitempty"`
	Note       string          `json:"note,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Archived   bool            `json:"archived"`
	Favourited bool            `json:"favourited"`
	CreatedAt  string          `json:"createdAt,omitempty"`
	ModifiedAt string          `json:"modifiedAt,omitempty"`
	Tags       []Tag           `json:"tags,omitempty"`
	Content    BookmarkContent `json:"content"`
}

// URL returns the link URL, preferring the typed content.
func (b *Bookmark) URL() string {
	if b.Content.URL != "" {
		return b.Content.URL
	}
	return ""
}

// HasTag reports whether a tag with the given name is attached.
func (b *Bookmark) HasTag(name string) bool {
	for _, t := range b.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// TagID returns the id of the named tag, or "" when absent.
func (b *Bookmark) TagID(name string) string {
	for _, t := range b.Tags {
		if t.Name == name {
			return t.ID
		}
	}
	return ""
}

// BookmarkPage is one page of a cursor-paginated listing.
type BookmarkPage struct {
	Bookmarks  []Bookmark `json:"bookmarks"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// CreateBookmarkRequest creates a link bookmark.
type CreateBookmarkRequest struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Note  string `json:"note,omitempty"`
}

// UpdateBookmarkRequest patches a bookmark; nil fields are untouched.
type UpdateBookmarkRequest struct {
	Title      *string `json:"title,omitempty"`
	Note       *string `json:"note,omitempty"`
	Favourited *bool   `json:"favourited,omitempty"`
	Archived   *bool   `json:"archived,omitempty"`
}
