package models

import (
	"fmt"
	"time"
)

// Folder is one entry of the mailbox catalog returned by LIST.
type Folder struct {
	Name       string   `json:"name"`
	Delimiter  string   `json:"delimiter"`
	Attributes []string `json:"attributes,omitempty"`
}

// MessageID identifies a message within the store. UIDs are only unique per folder,
// so the folder name is part of the identity.
type MessageID struct {
	Folder string `json:"folder"`
	UID    uint32 `json:"uid"`
}

func (id MessageID) String() string {
	return fmt.Sprintf("%s/%d", id.Folder, id.UID)
}

// Candidate is a message picked up by a search that has not been confirmed relevant yet.
// It only lives for the duration of one evaluation.
type Candidate struct {
	ID       MessageID           `json:"id"`
	Subject  string              `json:"subject"`
	From     string              `json:"from"`
	To       string              `json:"to"`
	Date     time.Time           `json:"date"`
	BodyText string              `json:"body_text,omitempty"`
	BodyHTML string              `json:"body_html,omitempty"`
	Headers  map[string][]string `json:"headers,omitempty"`

	// HasBody is true once the full message has been fetched and decoded.
	HasBody bool `json:"has_body"`
}
