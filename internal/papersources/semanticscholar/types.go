package semanticscholar

// SearchResponse is the top-level response from the paper search endpoint.
type SearchResponse struct {
	Total int           `json:"total"`
	Next  int           `json:"next"`
	Data  []PaperResult `json:"data"`
}

// PaperResult is a single paper record from the Graph API.
type PaperResult struct {
	PaperID       string         `json:"paperId"`
	ExternalIDs   *ExternalIDs   `json:"externalIds"`
	Title         string         `json:"title"`
	Abstract      string         `json:"abstract"`
	Year          int            `json:"year"`
	URL           string         `json:"url"`
	Authors       []Author       `json:"authors"`
	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf"`
}

// ExternalIDs holds cross-database identifiers for a paper.
type ExternalIDs struct {
	DOI    string `json:"DOI"`
	ArXiv  string `json:"ArXiv"`
	PubMed string `json:"PubMed"`
}

// Author is a paper author record.
type Author struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

// OpenAccessPDF holds the open access PDF location if available.
type OpenAccessPDF struct {
	URL string `json:"url"`
}

// ErrorResponse is the error payload returned by the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
