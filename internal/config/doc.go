// Package config loads the YAML configuration of the transcription client
// and validates every section before use.
package config
