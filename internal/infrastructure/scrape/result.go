package scrape

// Result is the outcome of one scrape call. Error outcomes still carry any
// partial content the service returned alongside the error.
type Result struct {
	Success     bool           `json:"success"`
	URL         string         `json:"url"`
	Markdown    string         `json:"markdown,omitempty"`
	HTML        string         `json:"html,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Endpoint    string         `json:"endpoint"`
	LatencyMs   int64          `json:"latency_ms"`
	RequestID   int64          `json:"request_id,omitempty"`
	ErrorText   string         `json:"error_text,omitempty"`
	ErrorCtx    map[string]any `json:"error_context,omitempty"`
	OptionsJSON map[string]any `json:"options_json,omitempty"`
}

// OK reports whether the scrape produced usable content.
func (r *Result) OK() bool {
	return r != nil && r.Success
}

// SearchItem is one normalized web-search hit.
type SearchItem struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet,omitempty"`
	Source    string `json:"source,omitempty"`
	Published string `json:"published,omitempty"`
}

// SearchResult is the outcome of one search call.
type SearchResult struct {
	Success      bool           `json:"success"`
	Query        string         `json:"query"`
	Items        []SearchItem   `json:"items"`
	TotalResults int            `json:"total_results"`
	LatencyMs    int64          `json:"latency_ms"`
	ErrorText    string         `json:"error_text,omitempty"`
	ErrorCtx     map[string]any `json:"error_context,omitempty"`
}
