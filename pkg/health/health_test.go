package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusRequiresConsecutiveFailures(t *testing.T) {
	cfg := Config{Retries: 3}
	s := NewStatus()

	fail := Result{Healthy: false, CheckedAt: time.Now()}
	ok := Result{Healthy: true, CheckedAt: time.Now()}

	s.Update(fail, cfg)
	s.Update(fail, cfg)
	assert.True(t, s.Healthy, "below the retry threshold")

	s.Update(ok, cfg)
	assert.Zero(t, s.ConsecutiveFailures, "success resets the streak")

	s.Update(fail, cfg)
	s.Update(fail, cfg)
	s.Update(fail, cfg)
	assert.False(t, s.Healthy)

	s.Update(ok, cfg)
	assert.True(t, s.Healthy, "recovery is immediate")
}

func TestRunCollectsAllCheckers(t *testing.T) {
	good := CheckFunc{
		CheckName: "good",
		Fn: func(ctx context.Context) Result {
			return Result{Healthy: true, Message: "ok"}
		},
	}
	bad := CheckFunc{
		CheckName: "bad",
		Fn: func(ctx context.Context) Result {
			return Result{Healthy: false, Message: "broken"}
		},
	}

	results := Run(context.Background(), DefaultConfig(), good, bad)
	assert.Len(t, results, 2)
	assert.True(t, results["good"].Healthy)
	assert.False(t, results["bad"].Healthy)
	assert.False(t, results["good"].CheckedAt.IsZero())
}

func TestRunHonorsTimeout(t *testing.T) {
	slow := CheckFunc{
		CheckName: "slow",
		Fn: func(ctx context.Context) Result {
			select {
			case <-ctx.Done():
				return Result{Healthy: false, Message: fmt.Sprintf("timed out: %v", ctx.Err())}
			case <-time.After(5 * time.Second):
				return Result{Healthy: true}
			}
		},
	}

	cfg := Config{Timeout: 20 * time.Millisecond}
	start := time.Now()
	results := Run(context.Background(), cfg, slow)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, results["slow"].Healthy)
}
