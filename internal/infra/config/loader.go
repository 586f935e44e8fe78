package config

import (
	"os"

	"github.com/YoshitsuguKoike/asw/internal/app/config"
)

// DefaultHome is used when neither --home nor ASW_HOME is given
const DefaultHome = ".asw"

// ResolveHome picks the home directory: explicit flag, then ASW_HOME, then
// the default
func ResolveHome(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("ASW_HOME"); v != "" {
		return v
	}
	return DefaultHome
}

// Load resolves the home directory and loads its setting.yaml
func Load(homeFlag string) (*config.AppConfig, error) {
	return LoadSettings(ResolveHome(homeFlag))
}
