package config

import "os"

// ExpandEnv expands environment variables in YAML content using the
// standard library's shell-style substitution. Supports both ${VAR} and
// $VAR. Missing variables expand to the empty string; Validate catches
// required fields left empty by that.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
