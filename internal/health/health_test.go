package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPingCheckerTransitions(t *testing.T) {
	var fail atomic.Bool
	pinger := PingFunc(func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	c := NewPingChecker("store", pinger, zerolog.Nop(), time.Second)
	assert.False(t, c.IsHealthy(), "checker starts unhealthy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx, 10*time.Millisecond)

	assert.Eventually(t, c.IsHealthy, time.Second, 5*time.Millisecond)

	fail.Store(true)
	assert.Eventually(t, func() bool { return !c.IsHealthy() }, time.Second, 5*time.Millisecond)

	fail.Store(false)
	assert.Eventually(t, c.IsHealthy, time.Second, 5*time.Millisecond)
}

func TestServiceHealthAggregates(t *testing.T) {
	ok := NewPingChecker("a", PingFunc(func(context.Context) error { return nil }), zerolog.Nop(), time.Second)
	bad := NewPingChecker("b", PingFunc(func(context.Context) error { return errors.New("down") }), zerolog.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ok.Start(ctx, 10*time.Millisecond)
	go bad.Start(ctx, 10*time.Millisecond)

	svc := NewServiceHealthChecker(zerolog.Nop(), ok, bad)
	go svc.Start(ctx, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, svc.IsHealthy())

	healthyOnly := NewServiceHealthChecker(zerolog.Nop(), ok)
	go healthyOnly.Start(ctx, 10*time.Millisecond)
	assert.Eventually(t, healthyOnly.IsHealthy, time.Second, 5*time.Millisecond)
}
