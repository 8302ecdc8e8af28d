package models

import "time"

// FileInfo holds metadata about an uploaded or generated file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"`
}
