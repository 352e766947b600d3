package dto

import "mime/multipart"

// UploadObjectRequest is the multipart form of POST /api/objects.
type UploadObjectRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"`
	// Lifetime is a Go duration such as "90m"; empty selects the default.
	Lifetime string `form:"lifetime"`
	// Name overrides the uploaded file name.
	Name string `form:"name"`
}
