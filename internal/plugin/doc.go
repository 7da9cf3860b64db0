// Package plugin registers language server plugins.
//
// A plugin is a Descriptor naming a server configuration and the files it
// serves. Descriptors are added to a Registry explicitly, either from Go
// with Register or from Lua files loaded with LoadLua:
//
//	register {
//	    name = "eslint",
//	    command = "vscode-eslint-language-server",
//	    args = { "--stdio" },
//	    languages = { "javascript", "typescript" },
//	    file_patterns = { "*.js", "*.ts" },
//	}
//
// Lua files run in a restricted state: only the base, table, string and
// math libraries are available, and the loaders are removed.
package plugin
