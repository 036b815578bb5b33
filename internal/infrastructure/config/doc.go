// Package config handles loading and validating Cloudlink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Cloud passwords and the vault passphrase should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Broker credentials are never configured; they come from the cloud login
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cloud.Server)
package config
