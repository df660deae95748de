package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
	dispatch    *service.DispatchEngine
	corridor    *service.EmergencyCorridorDetector
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(
	rideService *service.RideService,
	dispatch *service.DispatchEngine,
	corridor *service.EmergencyCorridorDetector,
) *RideHandler {
	return &RideHandler{
		rideService: rideService,
		dispatch:    dispatch,
		corridor:    corridor,
	}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	PassengerID string       `json:"passenger_id"`
	Pickup      PointRequest `json:"pickup"`
	Destination PointRequest `json:"destination"`
	VehicleType string       `json:"vehicle_type,omitempty"` // REGULAR or EMERGENCY
}

// DriverActionRequest is the body of driver-driven lifecycle commands.
type DriverActionRequest struct {
	DriverID string `json:"driver_id"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

// CorridorRequest is the HTTP request body for an emergency corridor check.
type CorridorRequest struct {
	DriverID string       `json:"driver_id"`
	Location PointRequest `json:"location"`
	Bearing  *float64     `json:"bearing"`
	RadiusKm float64      `json:"radius_km,omitempty"`
}

// RideResponse is the HTTP response for ride data.
type RideResponse struct {
	ID               string        `json:"id"`
	PassengerID      string        `json:"passenger_id"`
	DriverID         string        `json:"driver_id,omitempty"`
	Pickup           PointResponse `json:"pickup"`
	Destination      PointResponse `json:"destination"`
	Status           string        `json:"status"`
	StatusText       string        `json:"status_description"`
	VehicleType      string        `json:"vehicle_type"`
	EstimatedFare    float64       `json:"estimated_fare"`
	FinalFare        *float64      `json:"final_fare,omitempty"`
	DistanceKm       float64       `json:"distance_km"`
	DurationMinutes  float64       `json:"duration_minutes"`
	SurgeMultiplier  float64       `json:"surge_multiplier"`
	SurgeActive      bool          `json:"surge_active"`
	RequestedAt      string        `json:"requested_at"`
	DriverAssignedAt string        `json:"driver_assigned_at,omitempty"`
	DriverArrivingAt string        `json:"driver_arriving_at,omitempty"`
	DriverArrivedAt  string        `json:"driver_arrived_at,omitempty"`
	RideStartedAt    string        `json:"ride_started_at,omitempty"`
	RideCompletedAt  string        `json:"ride_completed_at,omitempty"`
	CancelledAt      string        `json:"cancelled_at,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	LastNotification string        `json:"last_notification,omitempty"`
}

// TransitionResponse is the HTTP response for a lifecycle command.
type TransitionResponse struct {
	RideID string       `json:"ride_id"`
	From   string       `json:"from"`
	To     string       `json:"to"`
	At     string       `json:"at"`
	Ride   RideResponse `json:"ride"`
}

// NextStatesResponse describes where a ride can go from here.
type NextStatesResponse struct {
	RideID      string   `json:"ride_id"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	NextStates  []string `json:"next_states"`
	CanCancel   bool     `json:"can_cancel"`
	Terminal    bool     `json:"terminal"`
}

func toRideResponse(r *domain.Ride) RideResponse {
	requested := r.RequestedAt
	return RideResponse{
		ID:               r.ID,
		PassengerID:      r.PassengerID,
		DriverID:         r.DriverID,
		Pickup:           toPointResponse(r.Pickup),
		Destination:      toPointResponse(r.Destination),
		Status:           string(r.Status),
		StatusText:       service.GetStatusDescription(r.Status),
		VehicleType:      string(r.VehicleType),
		EstimatedFare:    r.EstimatedFare,
		FinalFare:        r.FinalFare,
		DistanceKm:       r.DistanceKm,
		DurationMinutes:  r.DurationMinutes,
		SurgeMultiplier:  r.SurgeMultiplier,
		SurgeActive:      r.SurgeMultiplier > 1.0,
		RequestedAt:      formatTime(&requested),
		DriverAssignedAt: formatTime(r.DriverAssignedAt),
		DriverArrivingAt: formatTime(r.DriverArrivingAt),
		DriverArrivedAt:  formatTime(r.DriverArrivedAt),
		RideStartedAt:    formatTime(r.RideStartedAt),
		RideCompletedAt:  formatTime(r.RideCompletedAt),
		CancelledAt:      formatTime(r.CancelledAt),
		CancelReason:     r.CancelReason,
		LastNotification: formatTime(r.LastNotification),
	}
}

func toTransitionResponse(ev *service.TransitionEvent) TransitionResponse {
	return TransitionResponse{
		RideID: ev.RideID,
		From:   string(ev.From),
		To:     string(ev.To),
		At:     formatTime(&ev.At),
		Ride:   toRideResponse(ev.Ride),
	}
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	pickup, err := req.Pickup.toPoint()
	if err != nil {
		respondError(c, err)
		return
	}
	destination, err := req.Destination.toPoint()
	if err != nil {
		respondError(c, err)
		return
	}

	ride, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		PassengerID: req.PassengerID,
		Pickup:      pickup,
		Destination: destination,
		VehicleType: domain.VehicleType(req.VehicleType),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRideResponse(ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// GetHistory handles GET /v1/rides/:id/history
func (h *RideHandler) GetHistory(c *gin.Context) {
	history, err := h.rideService.GetRideStatusHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"ride_id": c.Param("id"), "history": history})
}

// GetNextStates handles GET /v1/rides/:id/next-states
func (h *RideHandler) GetNextStates(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	next := service.GetValidNextStates(ride.Status)
	names := make([]string, len(next))
	for i, s := range next {
		names[i] = string(s)
	}
	respondJSON(c, http.StatusOK, NextStatesResponse{
		RideID:      ride.ID,
		Status:      string(ride.Status),
		Description: service.GetStatusDescription(ride.Status),
		NextStates:  names,
		CanCancel:   service.CanCancelRide(ride.Status),
		Terminal:    service.IsTerminalStatus(ride.Status),
	})
}

// GetAvailableDrivers handles GET /v1/rides/:id/drivers
func (h *RideHandler) GetAvailableDrivers(c *gin.Context) {
	drivers, err := h.dispatch.GetAvailableDriversForRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"ride_id": c.Param("id"), "drivers": toCandidateResponses(drivers)})
}

// MarkArriving handles POST /v1/rides/:id/arriving
func (h *RideHandler) MarkArriving(c *gin.Context) {
	h.driverAction(c, h.rideService.MarkArriving)
}

// MarkArrived handles POST /v1/rides/:id/arrived
func (h *RideHandler) MarkArrived(c *gin.Context) {
	h.driverAction(c, h.rideService.MarkArrived)
}

// StartRide handles POST /v1/rides/:id/start
func (h *RideHandler) StartRide(c *gin.Context) {
	h.driverAction(c, h.rideService.StartRide)
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	h.driverAction(c, h.rideService.CompleteRide)
}

type driverActionFunc func(ctx context.Context, rideID, driverID string) (*service.TransitionEvent, error)

func (h *RideHandler) driverAction(c *gin.Context, action driverActionFunc) {
	var req DriverActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ev, err := action(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTransitionResponse(ev))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ev, err := h.rideService.CancelRide(c.Request.Context(), service.CancelRideRequest{
		RideID:      c.Param("id"),
		CancelledBy: req.CancelledBy,
		Reason:      req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTransitionResponse(ev))
}

// CheckCorridor handles POST /v1/rides/:id/corridor
func (h *RideHandler) CheckCorridor(c *gin.Context) {
	var req CorridorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Bearing == nil {
		respondError(c, service.ErrInvalidBearing)
		return
	}

	location, err := req.Location.toPoint()
	if err != nil {
		respondError(c, err)
		return
	}

	report, err := h.corridor.Detect(c.Request.Context(), service.CorridorRequest{
		DriverID: req.DriverID,
		RideID:   c.Param("id"),
		Lat:      location.Lat,
		Lng:      location.Lng,
		Bearing:  *req.Bearing,
		RadiusKm: req.RadiusKm,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, report)
}
