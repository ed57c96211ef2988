// Package config defines configuration structures for the packfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (PACKFETCH_ prefix)
//   - YAML configuration file
//
// Sizes accept human-readable strings such as "32KiB" and durations use
// time.ParseDuration syntax.
//
// # Structure
//
//	type Config struct {
//	    APIURL         string
//	    Token          string
//	    Output         string // bucket URL, e.g. file://./downloads
//	    FallbackOutput string
//	    BufferSize     int64
//	    Progress       bool
//	    Verbose        bool
//	    Timeouts       TimeoutsConfig
//	}
//
//	type TimeoutsConfig struct {
//	    Request          time.Duration
//	    StatusEscalation time.Duration
//	    CompletedLinger  time.Duration
//	    ErrorLinger      time.Duration
//	    NotificationTTL  time.Duration
//	    ReleaseDelay     time.Duration
//	}
package config
