// ABOUTME: Tests for configuration handling in the service entry point.
// ABOUTME: Covers environment variable overrides and config validation.

package main

import (
	"os"
	"reflect"
	"testing"
)

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		initial  Config
		expected Config
	}{
		{
			name:     "no environment variables",
			envVars:  map[string]string{},
			initial:  Config{Port: 8080, DBPath: "securewatch.db"},
			expected: Config{Port: 8080, DBPath: "securewatch.db"},
		},
		{
			name: "environment overrides flags",
			envVars: map[string]string{
				"PORT":      "9000",
				"DB_PATH":   "/var/lib/securewatch/data.db",
				"DATA_FILE": "/data/scan.json",
			},
			initial:  Config{Port: 8080, DBPath: "securewatch.db"},
			expected: Config{Port: 9000, DBPath: "/var/lib/securewatch/data.db", DataFile: "/data/scan.json"},
		},
		{
			name: "invalid port value is ignored",
			envVars: map[string]string{
				"PORT": "not-a-number",
			},
			initial:  Config{Port: 8080, DBPath: "securewatch.db"},
			expected: Config{Port: 8080, DBPath: "securewatch.db"},
		},
		{
			name: "data url override",
			envVars: map[string]string{
				"DATA_URL": "https://example.com/scan.json",
			},
			initial:  Config{Port: 8080, DBPath: "securewatch.db"},
			expected: Config{Port: 8080, DBPath: "securewatch.db", DataURL: "https://example.com/scan.json"},
		},
	}

	envKeys := []string{"PORT", "DB_PATH", "DATA_FILE", "DATA_URL"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				os.Unsetenv(key)
			}
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			config := tt.initial
			applyEnvOverrides(&config)

			if !reflect.DeepEqual(config, tt.expected) {
				t.Errorf("applyEnvOverrides() = %+v, want %+v", config, tt.expected)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid defaults",
			config: Config{Port: 8080, DBPath: "securewatch.db"},
		},
		{
			name:   "file source only",
			config: Config{Port: 8080, DBPath: "securewatch.db", DataFile: "/data/scan.json"},
		},
		{
			name:    "both data sources set",
			config:  Config{Port: 8080, DBPath: "securewatch.db", DataFile: "/data/scan.json", DataURL: "https://example.com/scan.json"},
			wantErr: true,
		},
		{
			name:    "port zero",
			config:  Config{Port: 0, DBPath: "securewatch.db"},
			wantErr: true,
		},
		{
			name:    "port out of range",
			config:  Config{Port: 70000, DBPath: "securewatch.db"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(&tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
