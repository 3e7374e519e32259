package domain

// Page is one slice of a server-held collection.
type Page[T any] struct {
	Items      []T
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Pages returns the server-reported page count, falling back to computing
// it from Total and PageSize.
func (p Page[T]) Pages() int {
	if p.TotalPages > 0 {
		return p.TotalPages
	}
	return TotalPages(p.Total, p.PageSize)
}

// TotalPages returns ceil(total/pageSize), never less than 1.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// Link is an external reference attached to an announcement.
type Link struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Announcement is a corporate announcement row. Attachments are not part of
// the payload; they are fetched on demand by ID.
type Announcement struct {
	ID                 string `json:"id"`
	TradeDate          string `json:"trade_date,omitempty"`
	ScriptCode         int    `json:"script_code,omitempty"`
	SymbolNSE          string `json:"symbol_nse,omitempty"`
	SymbolBSE          string `json:"symbol_bse,omitempty"`
	CompanyName        string `json:"company_name,omitempty"`
	NewsHeadline       string `json:"news_headline,omitempty"`
	DescriptorName     string `json:"descriptor_name,omitempty"`
	AnnouncementType   string `json:"announcement_type,omitempty"`
	NewsSubhead        string `json:"news_subhead,omitempty"`
	NewsBody           string `json:"news_body,omitempty"`
	DescriptorCategory string `json:"descriptor_category,omitempty"`
	DateOfMeeting      string `json:"date_of_meeting,omitempty"`
	Links              []Link `json:"links,omitempty"`
}
