package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	accounts *service.AccountService
	tracker  *service.LocationTracker
	rides    *service.RideService
	dispatch *service.DispatchEngine
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(
	accounts *service.AccountService,
	tracker *service.LocationTracker,
	rides *service.RideService,
	dispatch *service.DispatchEngine,
) *DriverHandler {
	return &DriverHandler{
		accounts: accounts,
		tracker:  tracker,
		rides:    rides,
		dispatch: dispatch,
	}
}

// RegisterDriverRequest is the HTTP request body for registering a driver.
type RegisterDriverRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	VehicleType string `json:"vehicle_type"`
}

// AcceptRideRequest is the HTTP request body for accepting a ride.
type AcceptRideRequest struct {
	RideID string `json:"ride_id"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Phone              string         `json:"phone"`
	VehicleType        string         `json:"vehicle_type"`
	IsOnline           bool           `json:"is_online"`
	IsAvailable        bool           `json:"is_available"`
	Location           *PointResponse `json:"location,omitempty"`
	PreLocation        *PointResponse `json:"pre_location,omitempty"`
	LastLocationUpdate string         `json:"last_location_update,omitempty"`
}

// CandidateResponse is a nearby driver with its distance.
type CandidateResponse struct {
	Driver     DriverResponse `json:"driver"`
	DistanceKm float64        `json:"distance_km"`
}

// LocationResponse is the HTTP response for a location update.
type LocationResponse struct {
	DriverID           string         `json:"driver_id"`
	Location           PointResponse  `json:"location"`
	PreLocation        *PointResponse `json:"pre_location,omitempty"`
	Bearing            *float64       `json:"bearing,omitempty"`
	LastLocationUpdate string         `json:"last_location_update"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:                 d.ID,
		Name:               d.Name,
		Phone:              d.Phone,
		VehicleType:        string(d.VehicleType),
		IsOnline:           d.IsOnline,
		IsAvailable:        d.IsAvailable,
		Location:           toPointResponsePtr(d.Location),
		PreLocation:        toPointResponsePtr(d.PreLocation),
		LastLocationUpdate: formatTime(d.LastLocationUpdate),
	}
}

func toCandidateResponses(drivers []service.AvailableDriver) []CandidateResponse {
	out := make([]CandidateResponse, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, CandidateResponse{Driver: toDriverResponse(d.Driver), DistanceKm: d.DistanceKm})
	}
	return out
}

// RegisterDriver handles POST /v1/drivers/register
func (h *DriverHandler) RegisterDriver(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	driver, err := h.accounts.RegisterDriver(c.Request.Context(), service.RegisterDriverRequest{
		Name:        req.Name,
		Phone:       req.Phone,
		VehicleType: domain.VehicleType(req.VehicleType),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	driver, err := h.accounts.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req PointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	point, err := req.toPoint()
	if err != nil {
		respondError(c, err)
		return
	}

	pos, err := h.tracker.SaveCoordinates(c.Request.Context(), c.Param("id"), point)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, LocationResponse{
		DriverID:           pos.DriverID,
		Location:           toPointResponse(pos.Location),
		PreLocation:        toPointResponsePtr(pos.PreLocation),
		Bearing:            pos.Bearing,
		LastLocationUpdate: formatTime(&pos.LastLocationUpdate),
	})
}

// GoOnline handles POST /v1/drivers/:id/online
func (h *DriverHandler) GoOnline(c *gin.Context) {
	if err := h.tracker.SetDriverOnline(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"driver_id": c.Param("id"), "is_online": true})
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	if err := h.tracker.SetDriverOffline(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"driver_id": c.Param("id"), "is_online": false})
}

// AcceptRide handles POST /v1/drivers/:id/accept
func (h *DriverHandler) AcceptRide(c *gin.Context) {
	var req AcceptRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ev, err := h.rides.AcceptRide(c.Request.Context(), req.RideID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTransitionResponse(ev))
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius_km=&vehicle_type=&limit=
func (h *DriverHandler) Nearby(c *gin.Context) {
	point, err := PointRequest{
		Lat: []byte(c.Query("lat")),
		Lng: []byte(c.Query("lng")),
	}.toPoint()
	if err != nil {
		respondError(c, err)
		return
	}

	search := service.DriverSearch{
		Location:    point,
		VehicleType: domain.VehicleType(c.Query("vehicle_type")),
	}
	search.Emergency = search.VehicleType == domain.VehicleTypeEmergency
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(c, service.ErrInvalidRadius)
			return
		}
		search.RadiusKm = r
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(c, service.ErrInvalidLimit)
			return
		}
		search.Limit = n
	}

	drivers, err := h.dispatch.FindAvailableDrivers(c.Request.Context(), search)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"drivers": toCandidateResponses(drivers)})
}
