package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestCheckAllHealthy(t *testing.T) {
	clk := clock.NewMock()
	hm := NewHealthMonitor("1.2.3", clk, nil)
	hm.RegisterCheck(NewBasicHealthCheck("storage", ok, true, time.Second))
	hm.RegisterCheck(NewBasicHealthCheck("engine", ok, false, 0))

	clk.Add(90 * time.Second)
	status := hm.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.True(t, status.Ready())
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "1m30s", status.Uptime)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "engine", status.Checks[0].Name)
	assert.Equal(t, "storage", status.Checks[1].Name)
}

func TestCheckNonCriticalFailureDegrades(t *testing.T) {
	hm := NewHealthMonitor("dev", nil, nil)
	hm.RegisterCheck(NewBasicHealthCheck("storage", ok, true, time.Second))
	hm.RegisterCheck(NewBasicHealthCheck("datasource:influxdb", failing, false, time.Second))

	status := hm.Check(context.Background())

	assert.Equal(t, StatusDegraded, status.Status)
	assert.True(t, status.Ready())
	assert.Equal(t, "connection refused", status.Checks[0].Message)
}

func TestCheckCriticalFailure(t *testing.T) {
	hm := NewHealthMonitor("dev", nil, nil)
	hm.RegisterCheck(NewBasicHealthCheck("storage", failing, true, time.Second))
	hm.RegisterCheck(NewBasicHealthCheck("boom", func(context.Context) error { panic("bad") }, false, time.Second))

	status := hm.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.False(t, status.Ready())
	assert.Contains(t, status.Checks[0].Message, "panicked")
}

func TestCheckTimeout(t *testing.T) {
	hm := NewHealthMonitor("dev", nil, nil)
	hm.RegisterCheck(NewBasicHealthCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, true, 10*time.Millisecond))

	status := hm.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
}
