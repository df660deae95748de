package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

// AccountService registers drivers and passengers.
type AccountService struct {
	driverRepo repository.DriverRepository
	userRepo   repository.UserRepository
}

// NewAccountService creates a new AccountService.
func NewAccountService(driverRepo repository.DriverRepository, userRepo repository.UserRepository) *AccountService {
	return &AccountService{driverRepo: driverRepo, userRepo: userRepo}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name        string
	Phone       string
	VehicleType domain.VehicleType // Optional: defaults to REGULAR
}

// RegisterDriver creates an offline driver with no position.
func (s *AccountService) RegisterDriver(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, validationError("driver name is required")
	}
	vehicleType := req.VehicleType
	if vehicleType == "" {
		vehicleType = domain.VehicleTypeRegular
	}
	if !vehicleType.IsValid() {
		return nil, ErrInvalidVehicleType
	}

	driver := &domain.Driver{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Phone:       req.Phone,
		VehicleType: vehicleType,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, createErr(err)
	}
	return driver, nil
}

// GetDriver retrieves a driver.
func (s *AccountService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.driverRepo.GetByID(ctx, driverID)
}

// RegisterUser creates a passenger.
func (s *AccountService) RegisterUser(ctx context.Context, name, phone string) (*domain.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, validationError("user name is required")
	}
	user := &domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Phone:     phone,
		CreatedAt: time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, createErr(err)
	}
	return user, nil
}

func createErr(err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
