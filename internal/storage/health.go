package storage

import (
	"context"
	"fmt"
)

// HealthChecker reports object storage reachability for the readiness
// endpoint. The probe asks for the result bucket: it exercises network,
// credentials and bucket configuration in one cheap call.
type HealthChecker struct {
	store *S3Store
}

// NewHealthChecker wraps the store in a HealthChecker.
func NewHealthChecker(store *S3Store) *HealthChecker {
	return &HealthChecker{store: store}
}

// HealthCheck verifies the result bucket exists and is reachable.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := h.store.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := h.store.client.BucketExists(ctx, h.store.bucket)
	if err != nil {
		return fmt.Errorf("result bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("result bucket %q does not exist", h.store.bucket)
	}
	return nil
}
