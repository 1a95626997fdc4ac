// Package database provides read-only SQLite connectivity to the device
// inventory.
//
// The inventory database is authored and maintained outside this tool, so
// the connection is opened with mode=ro and never runs migrations or
// writes. A busy timeout is still applied in case the inventory is open
// in an editor during a provisioning run.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Inventory.Path,
//	    BusyTimeout: cfg.Inventory.BusyTimeout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
package database
