package server

import (
	"encoding/json"
	"os"
	"strings"
)

// defaultSettingsFor resolves the fixed UserSettings defaults spec.md §6
// names for GET /api/users/settings/{provider}/defaults.
//
// Resource tiers are contractual (spec.md §4.4) and never overridden at
// runtime, so only this two-layer chain survives from the teacher's
// three-layer getResourceDefaults: an environment variable override, then
// a hardcoded fallback. The teacher's DB-backed system_settings layer has
// no equivalent table in the new schema — UserSettings is per-user, not
// system-wide — so it is dropped rather than faked.
func defaultSettingsFor(provider string) settingsBody {
	body := settingsBody{
		AllowedTools:    []string{},
		DisallowedTools: []string{},
		SkipPermissions: false,
	}

	envKey := "DEFAULT_SETTINGS_" + strings.ToUpper(provider)
	if v := os.Getenv(envKey); v != "" {
		var override settingsBody
		if err := json.Unmarshal([]byte(v), &override); err == nil {
			return override
		}
	}
	return body
}
