// Package config provides configuration management for dagrun.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use; an
// LLM API key is optional and only enables the LLM-backed worker.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
