// ABOUTME: CLI flags and config-file loading for the player daemon
// ABOUTME: Grounded on mtoohey31-q's kong+xdg globals/config pattern
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// Flags are the daemon's command-line options, parsed with kong. A config
// file (loaded by LoadArgs) may supply the same flags as whitespace-separated
// words, prepended so real argv still wins on conflict.
type Flags struct {
	Listen       string `short:"l" default:":7979" help:"Control address; it is logged at startup, and no listener is opened on it."`
	MediaDSN     string `short:"d" help:"Postgres DSN for the media catalog database." env:"PLAYCORE_MEDIA_DSN"`
	SettingsFile string `short:"s" type:"path" help:"Path to the local sqlite settings file. Defaults under the XDG state directory."`
	DiscoveryTag string `default:"_raop._tcp" help:"Not used: discovery always browses _roomcast-receiver._tcp."`
	InitialVol   int    `default:"100" help:"Not used: without a persisted value the volume starts at 100."`
	Debug        bool   `help:"Not used: logging is the same with or without it."`
}

// DefaultSettingsPath resolves the sqlite settings file path under the XDG
// state directory when Flags.SettingsFile was left empty.
func DefaultSettingsPath() (string, error) {
	path, err := xdg.StateFile(filepath.Join("playcore", "settings.db"))
	if err != nil {
		return "", fmt.Errorf("config: resolve settings path: %w", err)
	}
	return path, nil
}

// LoadArgs reads the optional config file (one flag token per whitespace run,
// same convention as kong-based CLIs in this codebase's lineage) and returns
// its tokens to prepend ahead of os.Args so real flags still override it.
func LoadArgs() ([]string, error) {
	path, err := xdg.ConfigFile(filepath.Join("playcore", "playcore.conf"))
	if err != nil {
		return nil, fmt.Errorf("config: resolve config file path: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read config file: %w", err)
	}
	return strings.Fields(string(b)), nil
}
