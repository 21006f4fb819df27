package common

import "time"

// Result is the event published at the end of a download run
type Result struct {
	Label       string    `json:"label"`
	Dataset     string    `json:"dataset"`
	Product     string    `json:"product"`
	Status      Status    `json:"status"`
	Requested   int       `json:"requested"`
	Failed      int       `json:"failed"`
	Files       []string  `json:"files"`
	URIs        []string  `json:"uris,omitempty"`
	Message     string    `json:"message,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
