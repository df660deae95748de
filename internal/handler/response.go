package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service error categories to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PointRequest is a coordinate pair as sent by clients. Values are kept raw
// so that non-numeric input and excess precision can be rejected.
type PointRequest struct {
	Lat     json.RawMessage `json:"lat"`
	Lng     json.RawMessage `json:"lng"`
	Address string          `json:"address,omitempty"`
}

func (p PointRequest) toPoint() (domain.Point, error) {
	lat, err := geo.ParseCoordinate(string(p.Lat))
	if err != nil {
		return domain.Point{}, fmt.Errorf("%w: lat: %v", service.ErrInvalidLocation, err)
	}
	lng, err := geo.ParseCoordinate(string(p.Lng))
	if err != nil {
		return domain.Point{}, fmt.Errorf("%w: lng: %v", service.ErrInvalidLocation, err)
	}
	return domain.Point{Lat: lat, Lng: lng, Address: p.Address}, nil
}

// PointResponse is a coordinate pair in responses.
type PointResponse struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

func toPointResponse(p domain.Point) PointResponse {
	return PointResponse{Lat: p.Lat, Lng: p.Lng, Address: p.Address}
}

func toPointResponsePtr(p *domain.Point) *PointResponse {
	if p == nil {
		return nil
	}
	r := toPointResponse(*p)
	return &r
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
