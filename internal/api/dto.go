package api

// SearchHit is one element of the search response array. Score is the
// normalized score rendered with four decimal places.
type SearchHit struct {
	PK    string `json:"pk"`
	Name  string `json:"name"`
	Score string `json:"score"`
}

// ChangeEvent is one element of the CDC envelope. A nil After is a
// delete/tombstone and is skipped; the index is never cleaned up for
// deletes.
type ChangeEvent struct {
	After *AfterImage `json:"after"`
}

// AfterImage is the new row state carried by a change event.
type AfterImage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CDCEnvelope is the change-feed webhook request body.
type CDCEnvelope struct {
	Payload []ChangeEvent `json:"payload"`
}

// CreateRecordRequest is the body for POST /records.
type CreateRecordRequest struct {
	Name string `json:"name"`
}

// RecordResponse describes a stored record.
type RecordResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Grams int    `json:"grams,omitempty"`
}
