package catalog

// NotAvailable is the sentinel used for any enrichment field missing upstream
const NotAvailable = "N/A"

// BookSummary is one search or trending result
type BookSummary struct {
	Title            string `json:"title"`
	AuthorName       string `json:"author_name"`
	FirstPublishYear string `json:"first_publish_year"`
	OpenLibraryKey   string `json:"open_library_key"`
	ImageURL         string `json:"image_url"`
}

// Author is a resolved author record of a work
type Author struct {
	Name      string `json:"name"`
	Bio       string `json:"bio"`
	BirthDate string `json:"birth_date"`
	DeathDate string `json:"death_date"`
}

// placeholderAuthor stands in for an author whose lookup failed
func placeholderAuthor() Author {
	return Author{Name: NotAvailable, Bio: "No bio available", BirthDate: "Unknown", DeathDate: "Unknown"}
}

// Work is the normalized work record
type Work struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Subjects         []string `json:"subjects"`
	FirstPublishDate string   `json:"first_publish_date"`
	Covers           []string `json:"covers"`
}

// BookDetail is a work with its authors resolved. The top-level fields are
// the denormalized values a client needs to add the work to a library.
type BookDetail struct {
	OpenLibraryKey string   `json:"open_library_key"`
	Title          string   `json:"title"`
	AuthorName     string   `json:"author_name"`
	ImageURL       string   `json:"image_url"`
	Work           Work     `json:"work"`
	Authors        []Author `json:"authors"`
}

// Enrichment is the bibliographic data attached to a tracked work
type Enrichment struct {
	Description   string   `json:"description"`
	Excerpts      string   `json:"excerpts"`
	NumberOfPages string   `json:"number_of_pages"`
	ISBN10        string   `json:"ol_isbn_10"`
	ISBN13        string   `json:"ol_isbn_13"`
	Subjects      []string `json:"ol_subjects"`
	PublishDate   string   `json:"ol_publish_date"`
}

// DefaultEnrichment returns the value used when no data could be fetched
func DefaultEnrichment() Enrichment {
	return Enrichment{
		Description:   NotAvailable,
		Excerpts:      NotAvailable,
		NumberOfPages: NotAvailable,
		ISBN10:        NotAvailable,
		ISBN13:        NotAvailable,
		Subjects:      []string{},
		PublishDate:   NotAvailable,
	}
}
