package model

import (
	"errors"
	"fmt"
)

// CloudProvider is a target cloud.
type CloudProvider string

const (
	ProviderGCP   CloudProvider = "GCP"
	ProviderAWS   CloudProvider = "AWS"
	ProviderAzure CloudProvider = "Azure"
)

// ServiceTier is the desired service level.
type ServiceTier string

const (
	TierStandard  ServiceTier = "Standard"
	TierDeveloper ServiceTier = "Developer"
	TierPremium   ServiceTier = "Premium"
)

// ErrInvalidSelection is wrapped by every selection validation error.
var ErrInvalidSelection = errors.New("invalid architecture selection")

const (
	MaxPriceCeiling  = 1000000
	PriceCeilingStep = 10
)

// ArchitectureSelection holds the user's planning preferences.
type ArchitectureSelection struct {
	Provider     CloudProvider `json:"provider"`
	ServiceTier  ServiceTier   `json:"service_tier"`
	PriceCeiling int           `json:"price_ceiling"`
}

// DefaultSelection mirrors the settings panel defaults.
func DefaultSelection() ArchitectureSelection {
	return ArchitectureSelection{
		Provider:     ProviderGCP,
		ServiceTier:  TierStandard,
		PriceCeiling: 1000,
	}
}

// Validate checks the selection against the allowed values.
func (s ArchitectureSelection) Validate() error {
	switch s.Provider {
	case ProviderGCP, ProviderAWS, ProviderAzure:
	default:
		return fmt.Errorf("%w: unknown cloud provider %q", ErrInvalidSelection, s.Provider)
	}
	switch s.ServiceTier {
	case TierStandard, TierDeveloper, TierPremium:
	default:
		return fmt.Errorf("%w: unknown service tier %q", ErrInvalidSelection, s.ServiceTier)
	}
	if s.PriceCeiling < 0 || s.PriceCeiling > MaxPriceCeiling {
		return fmt.Errorf("%w: price ceiling must be between 0 and %d", ErrInvalidSelection, MaxPriceCeiling)
	}
	if s.PriceCeiling%PriceCeilingStep != 0 {
		return fmt.Errorf("%w: price ceiling must be a multiple of %d", ErrInvalidSelection, PriceCeilingStep)
	}
	return nil
}
