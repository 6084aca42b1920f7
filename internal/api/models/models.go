// Package models holds the API bodies that belong to no domain package: problems,
// listings and operational status.
package models

// IDList is the body of listing endpoints that return identifiers only.
type IDList struct {
	Items []string `json:"items"`
}
