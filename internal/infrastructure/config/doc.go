// Package config handles loading and validating AV gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and the device inventory
//   - Default value handling
//   - Watching the config file for device hot reloads
//
// Security Considerations:
//   - Sensitive values (broker passwords, tokens) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup; the watcher re-reads the
//     file only when it changes on disk
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
