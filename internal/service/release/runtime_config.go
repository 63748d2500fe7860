package release

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skyhook-dev/skyhook/internal/docker"
)

// RuntimeOptions is the caller-supplied runtime configuration carried on a
// release as raw JSON.
type RuntimeOptions struct {
	Healthcheck *docker.HealthCheck `json:"Healthcheck,omitempty"`
}

// parseRuntimeOptions decodes the raw runtime config, tolerating an absent
// document.
func parseRuntimeOptions(raw json.RawMessage) (RuntimeOptions, error) {
	var opts RuntimeOptions
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return RuntimeOptions{}, fmt.Errorf("%w: runtime config: %v", ErrValidation, err)
	}
	return opts, nil
}

// mergeHealthCheck layers the caller's health check over the default wget
// probe for the declared port. Caller values win field by field. Without a
// declared port no default is injected and the caller's check (possibly nil)
// is used as-is.
func mergeHealthCheck(caller *docker.HealthCheck, port string) *docker.HealthCheck {
	port = strings.TrimSpace(port)
	if port == "" {
		return caller
	}
	merged := docker.HealthCheck{
		Test: []string{
			"CMD-SHELL",
			fmt.Sprintf("wget --no-verbose --tries=1 --spider http://localhost:%s || exit 1", port),
		},
		Retries:     2,
		StartPeriod: time.Second,
		Timeout:     5 * time.Second,
		Interval:    30 * time.Second,
	}
	if caller != nil {
		if len(caller.Test) > 0 {
			merged.Test = caller.Test
		}
		if caller.Retries != 0 {
			merged.Retries = caller.Retries
		}
		if caller.StartPeriod != 0 {
			merged.StartPeriod = caller.StartPeriod
		}
		if caller.Timeout != 0 {
			merged.Timeout = caller.Timeout
		}
		if caller.Interval != 0 {
			merged.Interval = caller.Interval
		}
	}
	return &merged
}
