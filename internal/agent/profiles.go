// ABOUTME: Optional TOML profile pack overriding built-in agent personas
// ABOUTME: Unknown agent names and empty fallback overrides are rejected at load

package agent

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
)

// profilePackFile is the on-disk TOML shape:
//
//	[agents.booking]
//	title = "Reservations Desk"
//	system_prompt = "..."
//	fallback = "..."
type profilePackFile struct {
	Agents map[string]profileEntry `toml:"agents"`
}

type profileEntry struct {
	Title        string `toml:"title"`
	SystemPrompt string `toml:"system_prompt"`
	Fallback     string `toml:"fallback"`
}

// LoadProfilePack reads a TOML profile pack and applies it on top of the
// built-in personas. Only the fields present in the file are overridden.
// Pass nil logger for default.
func LoadProfilePack(path string, logger *slog.Logger) (map[Type]Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}

	profiles := DefaultProfiles()

	var pack profilePackFile
	if _, err := toml.DecodeFile(path, &pack); err != nil {
		return nil, fmt.Errorf("reading profile pack: %w", err)
	}

	for name, entry := range pack.Agents {
		t := Type(strings.ToLower(name))
		if !t.Valid() {
			return nil, fmt.Errorf("profile pack: unknown agent %q", name)
		}

		p := profiles[t]
		if entry.Title != "" {
			p.Title = entry.Title
		}
		if entry.SystemPrompt != "" {
			p.SystemPrompt = entry.SystemPrompt
		}
		if entry.Fallback != "" {
			if strings.TrimSpace(entry.Fallback) == "" {
				return nil, fmt.Errorf("profile pack: blank fallback for agent %q", name)
			}
			p.Fallback = entry.Fallback
		}
		profiles[t] = p

		logger.Debug("applied profile override", "agent", t)
	}

	return profiles, nil
}
