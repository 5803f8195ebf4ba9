package main

import (
	"os"

	"github.com/ironcurtain/ironcurtain/internal/config"
)

// defaultConfigPath is where "start"/"config" look when --config isn't
// given, under IRONCURTAIN_HOME.
func defaultConfigPath() string {
	home := os.Getenv("IRONCURTAIN_HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
		home = home + "/.ironcurtain"
	}
	return home + "/config.json"
}

// loadConfigOrDefault loads path if given or present at the default
// location, else falls back to config.Default() (config.Load
// already layers environment overrides on top). IRONCURTAIN_HOME is
// seeded here, on the boot path, if unset -- config.Load's Validate
// requires a non-empty Home and every other env read stays confined to
// config.Load itself.
func loadConfigOrDefault(path string) (config.Config, error) {
	if os.Getenv("IRONCURTAIN_HOME") == "" {
		home, _ := os.UserHomeDir()
		os.Setenv("IRONCURTAIN_HOME", home+"/.ironcurtain")
	}
	if path == "" {
		path = defaultConfigPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return config.Load(path)
}
