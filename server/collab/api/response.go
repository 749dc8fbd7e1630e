package api

import (
	"taskhub/server/common/transport/httpresp"
)

const (
	ErrUnauthorized       = httpresp.ErrUnauthorized
	ErrMissingBearerToken = httpresp.ErrMissingBearerToken
	ErrInvalidToken       = httpresp.ErrInvalidToken
	ErrNotFound           = httpresp.ErrNotFound
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse
type IDResponse = httpresp.IDResponse
type URLResponse = httpresp.URLResponse

type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type UnreadCountResponse struct {
	UnreadCount int64 `json:"unread_count"`
}

type MarkReadResponse struct {
	UpdatedIDs []string `json:"updated_ids"`
}

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

type BulkDispatchResult struct {
	RecipientID    string `json:"recipient_id"`
	NotificationID string `json:"notification_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewOKResponse() OKResponse {
	return httpresp.NewOKResponse()
}

func NewURLResponse(url string) URLResponse {
	return httpresp.NewURLResponse(url)
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewPaginatedResponse[T any](items []T, limit, offset int) PaginatedResponse[T] {
	return PaginatedResponse[T]{Items: items, Limit: limit, Offset: offset}
}
