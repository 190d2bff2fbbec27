package workflow

import "time"

// backoffDelay returns base * 2^(attempt-1), capped at max.
// attempt is the 1-based number of the attempt that just failed.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// retryPlan 是某个节点生效的重试参数
type retryPlan struct {
	maxAttempts int
	base        time.Duration
	max         time.Duration
}

func planFor(n *Node, policy RunPolicy) retryPlan {
	p := retryPlan{
		maxAttempts: n.Retry.MaxAttempts,
		base:        time.Duration(n.Retry.BackoffBaseMs) * time.Millisecond,
		max:         time.Duration(n.Retry.BackoffMaxMs) * time.Millisecond,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	global := time.Duration(policy.MaxBackoffMs) * time.Millisecond
	if p.max <= 0 || (global > 0 && p.max > global) {
		p.max = global
	}
	return p
}
