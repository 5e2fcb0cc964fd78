/*
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

package analysis

import (
	"math"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	// maxAttempts bounds retries against model throttling before falling back.
	maxAttempts = 10
	// maxBackoff caps the exponential delay before jitter.
	maxBackoff = 60 * time.Second
	// escalationThreshold is the consecutive-throttle count past which the backoff base widens.
	escalationThreshold = 3
	// staggerWindow spreads concurrent workers' first attempts.
	staggerWindow = 3 * time.Second
)

// Backoff returns the delay before retry number attempt (zero-based). The delay grows
// exponentially with base 2, switching to base 3 once sustained throttling is observed, is
// capped, and then widened by a deterministic 20-40% jitter derived from the seed. The same
// (attempt, consecutiveThrottles, seed) triple always yields the same delay.
func Backoff(attempt int, consecutiveThrottles int, seed uint64) time.Duration {
	base := 2.0
	if consecutiveThrottles >= escalationThreshold {
		base = 3.0
	}
	delay := time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
	if delay > maxBackoff || delay < 0 {
		delay = maxBackoff
	}
	jitter := 0.2 + 0.2*unitFloat(seed, uint64(attempt))
	return time.Duration(float64(delay) * (1 + jitter))
}

// Stagger returns a deterministic 0-3s delay derived from the worker identity and payload, so
// a fleet of workers retrying the same burst does not thunder in lockstep.
func Stagger(instanceID string, payload []byte) time.Duration {
	hash, err := hashstructure.Hash(struct {
		InstanceID string
		Payload    string
	}{InstanceID: instanceID, Payload: string(payload)}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return time.Duration(hash % uint64(staggerWindow))
}

// Seed derives the jitter seed for one analysis from the worker identity and payload.
func Seed(instanceID string, payload []byte) uint64 {
	hash, err := hashstructure.Hash(struct {
		InstanceID string
		Payload    string
	}{InstanceID: instanceID, Payload: string(payload)}, hashstructure.FormatV2, nil)
	if err != nil {
		return 0
	}
	return hash
}

// unitFloat maps (seed, n) onto [0, 1) via a splitmix64 round.
func unitFloat(seed uint64, n uint64) float64 {
	x := seed + (n+1)*0x9E3779B97F4A7C15
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return float64(x>>11) / float64(uint64(1)<<53)
}
