package sdb

// Engine describes the database engine behind a connection. Strategy
// selection keys off the engine's capabilities, resolved once per
// store, never off runtime probing of the connection.
type Engine int

const (
	EngineGeneric Engine = iota
	EnginePostgreSQL
	EngineMySQL
)

func (e Engine) String() string {
	switch e {
	case EnginePostgreSQL:
		return "postgresql"
	case EngineMySQL:
		return "mysql"
	default:
		return "generic"
	}
}

type Capabilities struct {
	// Upsert: one atomic insert-or-increment statement.
	Upsert bool
	// UpsertReturning: the upsert statement yields the new value in
	// the same round trip.
	UpsertReturning bool
	// LockNoWait: row locks can be requested without blocking.
	LockNoWait bool
}

func (e Engine) Capabilities() Capabilities {
	switch e {
	case EnginePostgreSQL:
		return Capabilities{Upsert: true, UpsertReturning: true, LockNoWait: true}
	case EngineMySQL:
		// MySQL upserts via ON DUPLICATE KEY UPDATE but cannot return
		// the new value; NOWAIT needs 8.0+.
		return Capabilities{Upsert: true, LockNoWait: true}
	default:
		return Capabilities{}
	}
}

// EngineForDriver maps a database/sql driver name to an engine
// descriptor. Unknown drivers fall back to the locking path only.
func EngineForDriver(driverName string) Engine {
	switch driverName {
	case "pgx", "pgx/v5", "postgres":
		return EnginePostgreSQL
	case "mysql":
		return EngineMySQL
	default:
		return EngineGeneric
	}
}
