package scan

import (
	"time"

	"github.com/zombor/invoice-scanner/internal/extract"
)

// Scan is one processed invoice image and the fields pulled from it
type Scan struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ImageURL      string    `json:"image_url"`
	ExtractedText string    `json:"extracted_text"`
	TaxID         *string   `json:"cnpj"`
	Date          *string   `json:"data"`
	Total         *float64  `json:"total"`
	Confidence    float64   `json:"confidence"`
	Enhanced      bool      `json:"enhanced"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	CreatedAt     time.Time `json:"created_at"`
}

// Fields returns the extracted fields of the scan
func (s *Scan) Fields() extract.Fields {
	return extract.Fields{TaxID: s.TaxID, Date: s.Date, Total: s.Total}
}

// Filter narrows a scan listing
type Filter struct {
	// UserID limits the listing to one owner. Empty means every user.
	UserID string
	// Query is a case-insensitive substring matched against tax ID, date and text
	Query string
}
