package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridedispatch/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideOffer      NotificationType = "RIDE_OFFER"
	NotificationDriverAssigned NotificationType = "DRIVER_ASSIGNED"
	NotificationDriverArriving NotificationType = "DRIVER_ARRIVING"
	NotificationDriverArrived  NotificationType = "DRIVER_ARRIVED"
	NotificationRideStarted    NotificationType = "RIDE_STARTED"
	NotificationRideCompleted  NotificationType = "RIDE_COMPLETED"
	NotificationRideCancelled  NotificationType = "RIDE_CANCELLED"
	NotificationEmergencyAhead NotificationType = "EMERGENCY_VEHICLE_AHEAD"
)

// Notification represents a notification to be sent.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	RecipientID string           `json:"recipient_id"` // User or Driver ID
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Data        map[string]any   `json:"data,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DeliveryResult is what a gateway reports back for one notification.
type DeliveryResult struct {
	Delivered        bool     `json:"delivered"`
	DeliveryChannels []string `json:"delivery_channels,omitempty"`
	FailedReason     string   `json:"failed_reason,omitempty"`
}

// NotificationGateway delivers notifications. Callers treat every result and
// error as non-fatal.
type NotificationGateway interface {
	SendNotification(ctx context.Context, n Notification) (*DeliveryResult, error)
}

// LogGateway writes notifications to the log instead of delivering them.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// SendNotification logs the notification.
func (g *LogGateway) SendNotification(ctx context.Context, n Notification) (*DeliveryResult, error) {
	g.logger.InfoContext(ctx, "notification",
		"type", n.Type,
		"recipient", n.RecipientID,
		"title", n.Title,
		"message", n.Message,
	)
	return &DeliveryResult{Delivered: true, DeliveryChannels: []string{"log"}}, nil
}

func newNotification(t NotificationType, recipientID, title, message string, data map[string]any) Notification {
	return Notification{
		ID:          uuid.New().String(),
		Type:        t,
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Data:        data,
		CreatedAt:   time.Now(),
	}
}

func rideOfferNotification(ride *domain.Ride, driverID string, distanceKm float64, expiresAt time.Time) Notification {
	return newNotification(NotificationRideOffer, driverID,
		"New Ride Request",
		fmt.Sprintf("New ride request %.1f km away. Pickup at (%.4f, %.4f)", distanceKm, ride.Pickup.Lat, ride.Pickup.Lng),
		map[string]any{
			"ride_id":      ride.ID,
			"pickup_lat":   ride.Pickup.Lat,
			"pickup_lng":   ride.Pickup.Lng,
			"vehicle_type": ride.VehicleType,
			"distance_km":  distanceKm,
			"fare":         ride.EstimatedFare,
			"expires_at":   expiresAt,
		})
}

func emergencyAheadNotification(rideID, driverID, userID string, distanceKm, bearing float64) Notification {
	return newNotification(NotificationEmergencyAhead, userID,
		"Emergency Vehicle Approaching",
		fmt.Sprintf("An emergency vehicle is approaching, %.1f km away. Please clear the way.", distanceKm),
		map[string]any{
			"ride_id":     rideID,
			"driver_id":   driverID,
			"distance_km": distanceKm,
			"bearing":     bearing,
		})
}
