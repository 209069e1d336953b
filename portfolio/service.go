/*
service.go - Holdings commands

PURPOSE:
  Validates and applies changes to a user's holdings. Reads go through the
  valuation engine; this package only mutates.

INVARIANTS:
  - At most one holding per (user, scheme). Adding to an existing holding
    increments its units in one store call, never two rows.
  - A holding can only reference a scheme present in the catalogue.
  - Rejected input never reaches the store.

EXAMPLE:
  svc := portfolio.NewService(store, portfolio.WithLogger(logger))

  h, created, err := svc.Add(ctx, "user-1", 119551, decimal.RequireFromString("10.5"))
  if nav.IsNotFound(err) {
      // unknown scheme
  }

SEE ALSO:
  - nav/store.go: AddUnits, RemoveHolding
  - valuation/engine.go: Holdings and Value read paths
*/
package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/nav-engine/common"
	"github.com/warp/nav-engine/nav"
)

// Store is the subset of nav.Store the service needs.
type Store interface {
	nav.HoldingStore
	GetScheme(ctx context.Context, code nav.SchemeCode) (*nav.Scheme, error)
}

// Service applies holdings commands.
type Service struct {
	store  Store
	logger *common.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *common.Logger) Option {
	return func(s *Service) { s.logger = logger.Component("portfolio") }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: common.NewSilentLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates the (user, scheme) holding or increments its units.
// created reports whether a new holding was inserted.
func (s *Service) Add(ctx context.Context, userID string, code nav.SchemeCode, units decimal.Decimal) (nav.Holding, bool, error) {
	if err := validateUser(userID); err != nil {
		return nav.Holding{}, false, err
	}
	if err := code.Validate(); err != nil {
		return nav.Holding{}, false, err
	}
	if err := nav.ValidateUnits(units); err != nil {
		return nav.Holding{}, false, err
	}

	if _, err := s.store.GetScheme(ctx, code); err != nil {
		return nav.Holding{}, false, err
	}

	h, created, err := s.store.AddUnits(ctx, userID, code, units)
	if err != nil {
		return nav.Holding{}, false, fmt.Errorf("add units for %s/%d: %w", userID, code, err)
	}

	s.logger.Info().
		Str("user", userID).
		Int64("scheme", int64(code)).
		Str("added", units.String()).
		Str("units", h.Units.String()).
		Bool("created", created).
		Msg("holding updated")
	return h, created, nil
}

// Remove deletes the (user, scheme) holding. A missing holding returns
// nav.ErrHoldingNotFound and changes nothing.
func (s *Service) Remove(ctx context.Context, userID string, code nav.SchemeCode) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := code.Validate(); err != nil {
		return err
	}
	if err := s.store.RemoveHolding(ctx, userID, code); err != nil {
		return err
	}
	s.logger.Info().Str("user", userID).Int64("scheme", int64(code)).Msg("holding removed")
	return nil
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &nav.ValidationError{Field: "userId", Reason: "is required"}
	}
	return nil
}
