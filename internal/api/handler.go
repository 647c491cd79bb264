package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"classifier-fleet-backend/internal/artifact"
	"classifier-fleet-backend/internal/assignment"
	"classifier-fleet-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	resolver  *assignment.Resolver
	artifacts artifact.Manager
	webpush   *webpush.Options
	urlExpiry time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, resolver *assignment.Resolver, artifacts artifact.Manager, webpushOptions *webpush.Options, urlExpiry time.Duration) *Handler {
	return &Handler{
		store:     s,
		resolver:  resolver,
		artifacts: artifacts,
		webpush:   webpushOptions,
		urlExpiry: urlExpiry,
	}
}
