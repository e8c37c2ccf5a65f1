package domain

import "time"

// UploadSession holds the documents a customer is preparing for one order. Documents keep their
// insertion order and are addressed by ID.
type UploadSession struct {
	ID         string
	CustomerID string
	Documents  []Document
	// Version increases on every mutation so observers can discard stale snapshots.
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentByID returns the document with the given ID.
func (s UploadSession) DocumentByID(id string) (Document, bool) {
	for _, doc := range s.Documents {
		if doc.ID == id {
			return doc, true
		}
	}
	return Document{}, false
}
