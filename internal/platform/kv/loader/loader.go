// Package loader registers the kv store drivers via blank imports.
//
// Usage in main.go:
//
//	import _ "github.com/calrelay/calrelay/internal/platform/kv/loader"
package loader

import (
	_ "github.com/calrelay/calrelay/internal/platform/kv/memory"
	_ "github.com/calrelay/calrelay/internal/platform/kv/postgres"
	_ "github.com/calrelay/calrelay/internal/platform/kv/sqlite"
	_ "github.com/calrelay/calrelay/internal/platform/kv/valkey"
)
