// Package config handles loading and validating devicehub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and device declarations
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (broker password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Device declarations are validated for shape only (unique IDs, known
// parameter types, min <= max). Conversion into command definitions
// happens at startup in cmd/devicehub.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
