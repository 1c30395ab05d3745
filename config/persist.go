package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/qacompanion/qac/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		fmt.Printf("⚠️  Failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetUserConfigPath returns the path to the user-managed config file in ~/.qac/qac.toml
func GetUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".qac", "qac.toml")
}

// loadOrInitializeUserConfig loads the user config file, or creates an empty one if it doesn't exist
func loadOrInitializeUserConfig() (map[string]interface{}, string, error) {
	configPath := GetUserConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	// Ensure ~/.qac directory exists
	qacDir := filepath.Dir(configPath)
	if err := os.MkdirAll(qacDir, 0750); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .qac directory")
	}

	// Try to read existing config
	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		// File exists, parse it
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse user config")
		}
	} else {
		// File doesn't exist, create empty config
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUserConfig writes the config to the user config file with backup
func saveUserConfig(config map[string]interface{}, configPath string) error {
	// Create backup
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Marshal to TOML
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	// Write to file
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write user config")
	}

	return nil
}

// Set persists a single dotted key ("section.key") to the user config file.
// qac config is always sectioned, so bare top-level keys are rejected.
func Set(key string, value interface{}) error {
	section, field, found := strings.Cut(key, ".")
	if !found || section == "" || field == "" {
		return errors.Newf("config key must be of the form section.key, got %q", key)
	}
	return updateSection(section, field, value)
}

// updateSection sets a single key in a named section of the user config
func updateSection(section, key string, value interface{}) error {
	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load user config")
	}

	var settings map[string]interface{}
	if s, ok := config[section].(map[string]interface{}); ok {
		settings = s
	} else {
		settings = make(map[string]interface{})
	}

	settings[key] = value
	config[section] = settings

	return saveUserConfig(config, configPath)
}

// UpdateLocalInferenceEnabled updates the local_inference.enabled setting in user config
func UpdateLocalInferenceEnabled(enabled bool) error {
	return updateSection("local_inference", "enabled", enabled)
}

// UpdateLocalInferenceModel updates the local_inference.model setting in user config
func UpdateLocalInferenceModel(model string) error {
	return updateSection("local_inference", "model", model)
}

// UpdateEmbeddingsModel updates the embeddings.model setting in user config
func UpdateEmbeddingsModel(model string) error {
	return updateSection("embeddings", "model", model)
}

// UpdateJobsDailyBudget updates the daily budget in user config
func UpdateJobsDailyBudget(dailyBudget float64) error {
	return updateSection("jobs", "daily_budget_usd", dailyBudget)
}

// UpdateJobsMonthlyBudget updates the monthly budget in user config
func UpdateJobsMonthlyBudget(monthlyBudget float64) error {
	return updateSection("jobs", "monthly_budget_usd", monthlyBudget)
}
