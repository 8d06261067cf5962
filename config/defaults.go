// Package config carries the embedded default configuration.
package config

import _ "embed"

//go:embed conf.yaml
var Default []byte
