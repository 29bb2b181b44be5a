package queryspec

import "testing"

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Database.Host != "localhost" {
		t.Errorf("Expected database host to be 'localhost', got %s", config.Database.Host)
	}
	if config.Database.MaxConnections != 25 {
		t.Errorf("Expected max connections to be 25, got %d", config.Database.MaxConnections)
	}
	if config.Query.DefaultPageSize != 20 {
		t.Errorf("Expected default page size to be 20, got %d", config.Query.DefaultPageSize)
	}
	if config.Query.MaxPageSize != 200 {
		t.Errorf("Expected max page size to be 200, got %d", config.Query.MaxPageSize)
	}
	if config.Query.MaxInClauseBatch != 500 {
		t.Errorf("Expected max IN clause batch to be 500, got %d", config.Query.MaxInClauseBatch)
	}
}

func TestConfigValidationDetailed(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
		errorField  string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(),
		},
		{
			name: "invalid max connections",
			config: &Config{
				Database: DatabaseConfig{MaxConnections: 0},
				Query:    QueryConfig{DefaultPageSize: 50, MaxPageSize: 100, MaxInClauseBatch: 500},
			},
			expectError: true,
			errorField:  "database.maxConnections",
		},
		{
			name: "invalid page size",
			config: &Config{
				Database: DatabaseConfig{MaxConnections: 25},
				Query:    QueryConfig{DefaultPageSize: 0, MaxPageSize: 100, MaxInClauseBatch: 500},
			},
			expectError: true,
			errorField:  "query.defaultPageSize",
		},
		{
			name: "max page size less than default",
			config: &Config{
				Database: DatabaseConfig{MaxConnections: 25},
				Query:    QueryConfig{DefaultPageSize: 100, MaxPageSize: 50, MaxInClauseBatch: 500},
			},
			expectError: true,
			errorField:  "query.maxPageSize",
		},
		{
			name: "invalid max in clause batch",
			config: &Config{
				Database: DatabaseConfig{MaxConnections: 25},
				Query:    QueryConfig{DefaultPageSize: 50, MaxPageSize: 100, MaxInClauseBatch: 0},
			},
			expectError: true,
			errorField:  "query.maxInClauseBatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected validation error but got none")
				}
				configErr, ok := err.(*ConfigError)
				if !ok {
					t.Fatalf("expected *ConfigError, got %T", err)
				}
				if configErr.Field != tt.errorField {
					t.Errorf("expected error field %s, got %s", tt.errorField, configErr.Field)
				}
			} else if err != nil {
				t.Errorf("expected no validation error but got: %v", err)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "test.field", Message: "test message"}
	expected := "config validation error for field 'test.field': test message"
	if err.Error() != expected {
		t.Errorf("expected error message %s, got %s", expected, err.Error())
	}
}
