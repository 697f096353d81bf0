// Package plans resolves plan entitlements for users and stores.
package plans

import (
	"context"

	"github.com/jonesrussell/price-tracker/internal/config"
)

// Resolver answers which entitlements apply to a user or store. The
// scheduler and quota services consult it before doing paid work.
type Resolver interface {
	ForUser(ctx context.Context, userID string) (config.PlanLimits, error)
	ForStore(ctx context.Context, storeID string) (config.PlanLimits, error)
}

// StaticResolver serves every caller the configured default plan.
// Deployments with per-account billing substitute their own Resolver.
type StaticResolver struct {
	cfg config.PlansConfig
}

// NewStaticResolver creates a resolver backed by the plan catalog in config.
func NewStaticResolver(cfg config.PlansConfig) *StaticResolver {
	return &StaticResolver{cfg: cfg}
}

// ForUser returns the default plan's limits.
func (r *StaticResolver) ForUser(_ context.Context, _ string) (config.PlanLimits, error) {
	return r.cfg.Limits(r.cfg.Default), nil
}

// ForStore returns the default plan's limits.
func (r *StaticResolver) ForStore(_ context.Context, _ string) (config.PlanLimits, error) {
	return r.cfg.Limits(r.cfg.Default), nil
}
