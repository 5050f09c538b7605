package research

// DefaultPreviewLength bounds stored hit content.
const DefaultPreviewLength = 500

const ellipsis = "..."

// TruncateContent cuts s to at most n runes and marks the cut with "...".
// The cut is on rune boundaries so the result stays valid UTF-8.
func TruncateContent(s string, n int) string {
	if n <= 0 {
		n = DefaultPreviewLength
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + ellipsis
}

// ForStorage returns a copy of the report whose hit content is truncated
// to previewLength runes. The receiver is not modified.
func (r *ResearchReport) ForStorage(previewLength int) ResearchReport {
	out := *r
	out.Iterations = make([]Iteration, len(r.Iterations))
	for i, it := range r.Iterations {
		hits := make([]SearchHit, len(it.SearchResults))
		for j, h := range it.SearchResults {
			h.Content = TruncateContent(h.Content, previewLength)
			hits[j] = h
		}
		it.SearchResults = hits
		out.Iterations[i] = it
	}
	return out
}
