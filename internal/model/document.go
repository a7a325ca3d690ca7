package model

import "time"

// DocumentRecord describes one document's lifecycle state and file locations.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type DocumentRecord struct {
	ID             string    `json:"id"`
	SourcePath     string    `json:"source_path"`
	RecipientEmail string    `json:"recipient_email"`
	Signed         bool      `json:"signed"`
	SignedPath     string    `json:"signed_path,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// FieldSpec places one named single-line text field on a page.
// Coordinates are PDF user space points, origin at the bottom-left corner.
type FieldSpec struct {
	Name   string
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// SignatureFields is the fixed set of fields injected into the first page of
// every uploaded document. The recipient may fill any subset of them.
var SignatureFields = []FieldSpec{
	{Name: "FullName", X: 150, Y: 500, Width: 200, Height: 20},
	{Name: "Date", X: 150, Y: 470, Width: 200, Height: 20},
	{Name: "Company", X: 150, Y: 440, Width: 200, Height: 20},
}

// SignatureBox is the rectangle on the first page where the drawn signature
// image is composited during finalization.
var SignatureBox = FieldSpec{Name: "Signature", X: 50, Y: 50, Width: 150, Height: 50}
