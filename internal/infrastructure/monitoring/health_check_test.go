package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("connections", func(ctx context.Context) (bool, error) { return true, nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["connections"])
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("redis", func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") }, time.Second)
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, nil
	}, 10*time.Millisecond)

	status = h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["redis"])
	assert.Equal(t, "check failed", status.Checks["slow"])
	assert.False(t, h.IsReady(context.Background()))
}
