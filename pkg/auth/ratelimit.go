/*
Copyright 2025 The airia-test-pod Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package auth

import (
	"sync"
	"time"
)

const (
	loginWindow   = time.Minute
	loginAttempts = 10
)

// RateLimiter caps login attempts per client IP over a sliding window.
// State is in-memory only; stale entries are pruned on each check.
type RateLimiter struct {
	mu      sync.Mutex
	byIP    map[string][]time.Time
	now     func() time.Time
	window  time.Duration
	maxHits int
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		byIP:    map[string][]time.Time{},
		now:     time.Now,
		window:  loginWindow,
		maxHits: loginAttempts,
	}
}

// Allow records an attempt from ip and reports whether it is within
// the cap. Once the cap is hit, further attempts are rejected until
// enough old attempts age out of the window.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.byIP[ip][:0]
	for _, t := range l.byIP[ip] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	for other, hits := range l.byIP {
		if other != ip && len(hits) > 0 && !hits[len(hits)-1].After(cutoff) {
			delete(l.byIP, other)
		}
	}

	if len(kept) >= l.maxHits {
		l.byIP[ip] = kept
		return false
	}
	l.byIP[ip] = append(kept, now)
	return true
}
