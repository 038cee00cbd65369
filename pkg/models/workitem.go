package models

// WorkItem is the top-level unit of requested work tracked on the board.
// It is created when detected on the monitored list and never destroyed;
// the board remains its source of truth.
type WorkItem struct {
	// ID is the board card identifier.
	ID string `json:"id"`
	// Title is the card name.
	Title string `json:"title"`
	// Description is the card's free-text body.
	Description string `json:"description"`
	// ListID is the list the card currently sits on.
	ListID string `json:"list_id"`
	// Attachments references files attached to the card.
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment references a file attached to a work item.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
}
