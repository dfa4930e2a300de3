package store

import (
	"fmt"
	"strings"
)

// SupportedDrivers lists the storage backends NewStore accepts.
var SupportedDrivers = []string{"bbolt", "json"}

// NewStore opens the monitoring store at path using the named driver.
// "bbolt" keeps probe history, show runs, and marathon state in a single
// BoltDB file; "json" uses a plain JSON file and suits tests and small
// single-station deployments.
func NewStore(driver, path string) (Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))

	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	switch driver {
	case "bbolt":
		return NewBoltStore(path)
	case "json":
		return NewJSONStore(path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s (supported: %v)", driver, SupportedDrivers)
	}
}
