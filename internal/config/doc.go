// Package config loads code action settings.
//
// Settings are read from a TOML or YAML file, chosen by extension. A
// missing file yields Defaults. Environment variables prefixed with
// CODEACTIONS_ override the log settings. Watch reloads a settings file
// when it changes on disk.
//
// Example settings.toml:
//
//	show_code_actions_bulb = true
//	bulb_delay_ms = 500
//
//	[code_actions_on_save]
//	"source.fixAll" = true
//	"source.organizeImports" = false
//
//	[servers.gopls]
//	command = "gopls"
//	languages = ["go"]
package config
