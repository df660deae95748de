package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/repository"
)

// validTransitions is the ride lifecycle graph. Terminal statuses have no
// entry. Every non-terminal status may move to CANCELLED.
var validTransitions = map[domain.RideStatus][]domain.RideStatus{
	domain.RideStatusRequested:      {domain.RideStatusDriverAssigned, domain.RideStatusCancelled},
	domain.RideStatusDriverAssigned: {domain.RideStatusDriverArriving, domain.RideStatusCancelled},
	domain.RideStatusDriverArriving: {domain.RideStatusDriverArrived, domain.RideStatusCancelled},
	domain.RideStatusDriverArrived:  {domain.RideStatusInProgress, domain.RideStatusCancelled},
	domain.RideStatusInProgress:     {domain.RideStatusCompleted, domain.RideStatusCancelled},
}

var statusDescriptions = map[domain.RideStatus]string{
	domain.RideStatusRequested:      "Looking for a driver",
	domain.RideStatusDriverAssigned: "Driver assigned",
	domain.RideStatusDriverArriving: "Driver is on the way",
	domain.RideStatusDriverArrived:  "Driver has arrived at pickup",
	domain.RideStatusInProgress:     "Ride in progress",
	domain.RideStatusCompleted:      "Ride completed",
	domain.RideStatusCancelled:      "Ride cancelled",
}

// IsKnownStatus reports whether s is one of the ride statuses.
func IsKnownStatus(s domain.RideStatus) bool {
	_, ok := statusDescriptions[s]
	return ok
}

// IsValidTransition reports whether a ride may move from one status to
// another. A status never transitions to itself.
func IsValidTransition(from, to domain.RideStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GetValidNextStates returns the statuses reachable in one step. The result
// is empty for terminal statuses and a fresh slice on every call.
func GetValidNextStates(status domain.RideStatus) []domain.RideStatus {
	next := validTransitions[status]
	out := make([]domain.RideStatus, len(next))
	copy(out, next)
	return out
}

// IsTerminalStatus reports whether status has no outgoing transitions.
func IsTerminalStatus(status domain.RideStatus) bool {
	return status == domain.RideStatusCompleted || status == domain.RideStatusCancelled
}

// CanCancelRide reports whether a ride in status may be cancelled.
func CanCancelRide(status domain.RideStatus) bool {
	return IsValidTransition(status, domain.RideStatusCancelled)
}

// GetStatusDescription returns a human-readable label for status.
func GetStatusDescription(status domain.RideStatus) string {
	if d, ok := statusDescriptions[status]; ok {
		return d
	}
	return "Unknown status"
}

// TransitionOptions carries the optional inputs of a transition.
type TransitionOptions struct {
	DriverID     string // required for DRIVER_ASSIGNED
	UserID       string // who triggered the change
	Metadata     map[string]any
	FinalFare    *float64 // stored with COMPLETED
	CancelReason string   // stored with CANCELLED
}

// TransitionEvent describes a transition that has been persisted.
type TransitionEvent struct {
	RideID   string
	From     domain.RideStatus
	To       domain.RideStatus
	At       time.Time
	DriverID string
	UserID   string
	Metadata map[string]any
	Ride     *domain.Ride // ride as of right after the transition
}

// StatusHistoryEntry is one reached stage of a ride.
type StatusHistoryEntry struct {
	Status      domain.RideStatus `json:"status"`
	At          time.Time         `json:"at"`
	Description string            `json:"description"`
}

type transitionHook func(ctx context.Context, ev *TransitionEvent) error

// StateMachine owns ride status changes. Every change is a conditional write
// against the expected prior status.
type StateMachine struct {
	rideRepo   repository.RideRepository
	driverRepo repository.DriverRepository
	gateway    NotificationGateway
	logger     *slog.Logger
	now        func() time.Time
	hooks      map[domain.RideStatus]transitionHook
}

// NewStateMachine creates a new StateMachine.
func NewStateMachine(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	gateway NotificationGateway,
	logger *slog.Logger,
) *StateMachine {
	sm := &StateMachine{
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
		gateway:    gateway,
		logger:     logger,
		now:        time.Now,
	}
	sm.hooks = map[domain.RideStatus]transitionHook{
		domain.RideStatusDriverAssigned: sm.onDriverAssigned,
		domain.RideStatusDriverArriving: sm.onDriverArriving,
		domain.RideStatusDriverArrived:  sm.onDriverArrived,
		domain.RideStatusInProgress:     sm.onRideStarted,
		domain.RideStatusCompleted:      sm.onRideCompleted,
		domain.RideStatusCancelled:      sm.onRideCancelled,
	}
	return sm
}

// TransitionRideStatus moves a ride to newStatus. It fails with ErrNotFound
// for an unknown ride and with a *TransitionError when the edge is not in
// the lifecycle graph or a concurrent caller changed the status first.
// Side-effect hooks run after the write; their failures are logged and
// never undo the transition.
func (sm *StateMachine) TransitionRideStatus(ctx context.Context, rideID string, newStatus domain.RideStatus, opts TransitionOptions) (*TransitionEvent, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if !IsKnownStatus(newStatus) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	if newStatus == domain.RideStatusDriverAssigned && opts.DriverID == "" {
		return nil, ErrDriverIDRequired
	}
	if opts.FinalFare != nil && (*opts.FinalFare < 0 || math.IsNaN(*opts.FinalFare) || math.IsInf(*opts.FinalFare, 0)) {
		return nil, ErrInvalidFare
	}

	ride, err := sm.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}

	from := ride.Status
	if !IsValidTransition(from, newStatus) {
		observability.RideTransitionsTotal.WithLabelValues(string(from), string(newStatus), "invalid").Inc()
		return nil, &TransitionError{From: from, To: newStatus}
	}

	change := domain.StatusChange{
		RideID:    rideID,
		From:      from,
		To:        newStatus,
		At:        sm.now(),
		FinalFare: opts.FinalFare,
	}
	if newStatus == domain.RideStatusDriverAssigned {
		change.DriverID = opts.DriverID
	}
	if newStatus == domain.RideStatusCancelled {
		change.CancelReason = opts.CancelReason
	}

	ok, err := sm.rideRepo.TransitionStatus(ctx, change)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.RideTransitionsTotal.WithLabelValues(string(from), string(newStatus), "conflict").Inc()
		return nil, &TransitionError{From: from, To: newStatus}
	}
	observability.RideTransitionsTotal.WithLabelValues(string(from), string(newStatus), "ok").Inc()

	applyChange(ride, change)
	ev := &TransitionEvent{
		RideID:   rideID,
		From:     from,
		To:       newStatus,
		At:       change.At,
		DriverID: ride.DriverID,
		UserID:   opts.UserID,
		Metadata: opts.Metadata,
		Ride:     ride,
	}

	if hook, ok := sm.hooks[newStatus]; ok {
		if err := hook(ctx, ev); err != nil {
			sm.logger.WarnContext(ctx, "transition hook failed",
				"ride_id", rideID, "from", from, "to", newStatus, "error", err)
		}
	}

	sm.logger.InfoContext(ctx, "ride status changed",
		"ride_id", rideID, "from", from, "to", newStatus, "driver_id", ev.DriverID)
	return ev, nil
}

// GetRideStatusHistory lists every stage the ride has reached, ordered by
// the stored stage timestamps.
func (sm *StateMachine) GetRideStatusHistory(ctx context.Context, rideID string) ([]StatusHistoryEntry, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := sm.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	return rideHistory(ride), nil
}

// rideHistory rebuilds history from stage timestamps. Under clock skew
// between writers the order can be wrong; there is no transition log.
func rideHistory(ride *domain.Ride) []StatusHistoryEntry {
	history := make([]StatusHistoryEntry, 0, len(domain.AllRideStatuses))
	for _, status := range domain.AllRideStatuses {
		at := ride.StageTimestamp(status)
		if at == nil {
			continue
		}
		history = append(history, StatusHistoryEntry{
			Status:      status,
			At:          *at,
			Description: GetStatusDescription(status),
		})
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].At.Before(history[j].At)
	})
	return history
}

func applyChange(ride *domain.Ride, change domain.StatusChange) {
	ride.Status = change.To
	ride.SetStageTimestamp(change.To, change.At)
	if change.DriverID != "" {
		ride.DriverID = change.DriverID
	}
	if change.FinalFare != nil {
		fare := *change.FinalFare
		ride.FinalFare = &fare
	}
	if change.CancelReason != "" {
		ride.CancelReason = change.CancelReason
	}
}

func (sm *StateMachine) onDriverAssigned(ctx context.Context, ev *TransitionEvent) error {
	name := "Your driver"
	if driver, err := sm.driverRepo.GetByID(ctx, ev.DriverID); err == nil && driver.Name != "" {
		name = driver.Name
	}
	return sm.send(ctx, newNotification(NotificationDriverAssigned, ev.Ride.PassengerID,
		"Driver Assigned",
		fmt.Sprintf("%s has been assigned to your ride", name),
		map[string]any{"ride_id": ev.RideID, "driver_id": ev.DriverID}))
}

func (sm *StateMachine) onDriverArriving(ctx context.Context, ev *TransitionEvent) error {
	return sm.send(ctx, newNotification(NotificationDriverArriving, ev.Ride.PassengerID,
		"Driver On The Way",
		"Your driver is heading to the pickup point",
		map[string]any{"ride_id": ev.RideID, "driver_id": ev.DriverID}))
}

func (sm *StateMachine) onDriverArrived(ctx context.Context, ev *TransitionEvent) error {
	return sm.send(ctx, newNotification(NotificationDriverArrived, ev.Ride.PassengerID,
		"Driver Arrived",
		"Your driver has arrived at the pickup point",
		map[string]any{"ride_id": ev.RideID, "driver_id": ev.DriverID}))
}

func (sm *StateMachine) onRideStarted(ctx context.Context, ev *TransitionEvent) error {
	return sm.send(ctx, newNotification(NotificationRideStarted, ev.Ride.PassengerID,
		"Ride Started",
		"Your ride has started. Enjoy your ride!",
		map[string]any{"ride_id": ev.RideID, "started_at": ev.At}))
}

func (sm *StateMachine) onRideCompleted(ctx context.Context, ev *TransitionEvent) error {
	var availErr error
	if ev.DriverID != "" {
		availErr = sm.driverRepo.SetAvailability(ctx, ev.DriverID, true)
	}

	fare := ev.Ride.EstimatedFare
	if ev.Ride.FinalFare != nil {
		fare = *ev.Ride.FinalFare
	}
	sendErr := sm.send(ctx, newNotification(NotificationRideCompleted, ev.Ride.PassengerID,
		"Ride Completed",
		fmt.Sprintf("Your ride has ended. Total fare: $%.2f", fare),
		map[string]any{"ride_id": ev.RideID, "fare": fare, "completed_at": ev.At}))

	if availErr != nil {
		return fmt.Errorf("release driver %s: %w", ev.DriverID, availErr)
	}
	return sendErr
}

func (sm *StateMachine) onRideCancelled(ctx context.Context, ev *TransitionEvent) error {
	var availErr error
	if ev.DriverID != "" {
		availErr = sm.driverRepo.SetAvailability(ctx, ev.DriverID, true)
	}

	// Notify the other party.
	var recipientID, message string
	if ev.UserID != "" && ev.UserID == ev.DriverID {
		recipientID = ev.Ride.PassengerID
		message = "The driver has cancelled the ride"
	} else {
		recipientID = ev.DriverID
		message = "The passenger has cancelled the ride"
	}

	var sendErr error
	if recipientID != "" {
		sendErr = sm.send(ctx, newNotification(NotificationRideCancelled, recipientID,
			"Ride Cancelled",
			message,
			map[string]any{"ride_id": ev.RideID, "cancelled_by": ev.UserID, "reason": ev.Ride.CancelReason}))
	}

	if availErr != nil {
		return fmt.Errorf("release driver %s: %w", ev.DriverID, availErr)
	}
	return sendErr
}

func (sm *StateMachine) send(ctx context.Context, n Notification) error {
	if sm.gateway == nil || n.RecipientID == "" {
		return nil
	}
	res, err := sm.gateway.SendNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", n.Type, n.RecipientID, err)
	}
	if res != nil && !res.Delivered {
		return fmt.Errorf("send %s to %s: not delivered: %s", n.Type, n.RecipientID, res.FailedReason)
	}
	return nil
}
