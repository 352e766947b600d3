package dto

import "time"

type ObjectResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Size            int64     `json:"size"`
	RetrievalHandle string    `json:"url"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type ObjectListResponse struct {
	Objects []ObjectResponse `json:"objects"`
	Total   int              `json:"total"`
}

type StartResponse struct {
	Usage string `json:"usage"`
}
