package store

import (
	"database/sql"

	"github.com/rs/zerolog"
)

// base gives every repository a connection and a narrowed logger,
// mirroring the teacher's BaseRepository embedding pattern.
type base struct {
	db  *sql.DB
	log zerolog.Logger
}

func newBase(db *sql.DB, log zerolog.Logger, component string) base {
	return base{
		db:  db,
		log: log.With().Str("repo", component).Logger(),
	}
}
