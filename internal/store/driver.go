package store

import (
	"os"

	_ "github.com/mattn/go-sqlite3" // cgo driver, opt-in via SPECMEM_SQLITE_DRIVER
)

// driverName returns the database/sql driver every store in this package
// opens connections with: modernc.org/sqlite ("sqlite", pure Go) by
// default, the cgo mattn driver ("sqlite3") when SPECMEM_SQLITE_DRIVER=cgo.
// Both register against the same database/sql surface, so nothing above
// the open call changes.
func driverName() string {
	if os.Getenv("SPECMEM_SQLITE_DRIVER") == "cgo" {
		return "sqlite3"
	}
	return "sqlite"
}
