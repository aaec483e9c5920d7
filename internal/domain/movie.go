package domain

// Movie is a catalog entry returned by discovery.
type Movie struct {
	Title       string `json:"title"`
	Overview    string `json:"overview"`
	ReleaseDate string `json:"release_date"`
}

// CatalogQuery is the input to one recommendation lookup. Filter has the
// form "<filterType> <freeText>", e.g. "director Christopher Nolan".
type CatalogQuery struct {
	Genre  string
	Filter string
}
