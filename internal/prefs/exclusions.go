package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const exclusionsFile = "exclusions.json"

// Excluded merchant names live in a prefs file, not only in the database,
// so a database reset does not forget which payees the user muted.

func exclusionsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "subdrift")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, exclusionsFile), nil
}

// SaveExclusions writes the canonical names of excluded merchants.
func SaveExclusions(names []string) error {
	path, err := exclusionsPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadExclusions returns the saved canonical names, or nil if none saved.
func LoadExclusions() ([]string, error) {
	path, err := exclusionsPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	return names, nil
}
