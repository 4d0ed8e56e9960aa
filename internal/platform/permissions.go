package platform

import (
	"os"
	"strings"
)

// Env overrides for permission state, mainly for tests and CI where the
// real TCC prompts cannot be answered.
const (
	envAccessibility   = "DESKTRACE_ACCESSIBILITY"
	envInputMonitoring = "DESKTRACE_INPUT_MONITORING"
)

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

// envPermission interprets an override flag. The second result reports
// whether an override was present at all.
func envPermission(key string) (granted, ok bool) {
	value, present := lookupEnv(key)
	if !present {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "allow", "allowed", "yes", "true", "1":
		return true, true
	case "denied", "no", "false", "blocked", "0":
		return false, true
	default:
		return false, false
	}
}

// probeOverrides applies env overrides on top of the driver-probed state.
func probeOverrides(probed Permissions) Permissions {
	if granted, ok := envPermission(envAccessibility); ok {
		probed.Accessibility = granted
	}
	if granted, ok := envPermission(envInputMonitoring); ok {
		probed.InputMonitoring = granted
	}
	return probed
}
