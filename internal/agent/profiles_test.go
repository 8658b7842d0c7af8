// ABOUTME: Tests for TOML profile pack loading and overlay semantics
// ABOUTME: Covers partial overrides, unknown agents, and blank fallback rejection

package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProfilePack_PartialOverride(t *testing.T) {
	path := writePack(t, `
[agents.booking]
title = "Reservations Desk"
fallback = "One moment while I pull up our availability."
`)

	profiles, err := LoadProfilePack(path, nil)
	require.NoError(t, err)

	booking := profiles[TypeBooking]
	assert.Equal(t, "Reservations Desk", booking.Title)
	assert.Equal(t, "One moment while I pull up our availability.", booking.Fallback)
	// unspecified fields keep the built-in values
	assert.Equal(t, DefaultProfiles()[TypeBooking].SystemPrompt, booking.SystemPrompt)

	// untouched agents keep the built-in profile entirely
	assert.Equal(t, DefaultProfiles()[TypeService], profiles[TypeService])
}

func TestLoadProfilePack_EmptyFileKeepsDefaults(t *testing.T) {
	path := writePack(t, "")

	profiles, err := LoadProfilePack(path, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultProfiles(), profiles)
}

func TestLoadProfilePack_AgentNameIsCaseInsensitive(t *testing.T) {
	path := writePack(t, `
[agents.Housekeeping]
title = "Rooms Division"
`)

	profiles, err := LoadProfilePack(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "Rooms Division", profiles[TypeHousekeeping].Title)
}

func TestLoadProfilePack_UnknownAgentRejected(t *testing.T) {
	path := writePack(t, `
[agents.valet]
title = "Valet Desk"
`)

	_, err := LoadProfilePack(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}

func TestLoadProfilePack_BlankFallbackRejected(t *testing.T) {
	path := writePack(t, `
[agents.general]
fallback = "   "
`)

	_, err := LoadProfilePack(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blank fallback")
}

func TestLoadProfilePack_MissingFile(t *testing.T) {
	_, err := LoadProfilePack(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}
