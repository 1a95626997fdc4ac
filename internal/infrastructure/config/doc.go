// Package config handles loading and validating domoprov configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Legacy dotenv-style secret files (KEY=VALUE), with the process
//     environment as fallback for keys absent from the file
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (device passwords, broker credentials, Wi-Fi
//     passphrases) belong in the dotenv file or the environment, not in
//     the YAML file checked into configuration management
//   - Both files should carry restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", ".env")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Provision.Firmwares)
package config
