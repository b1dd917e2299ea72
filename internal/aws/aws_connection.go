package aws

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// DBI describes the RDS MySQL endpoint.
type DBI struct {
	User     string
	Password string
	Endpoint string
	Port     int
	Database string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds the driver DSN. Times are read and written as UTC.
func (i DBI) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = i.User
	cfg.Passwd = i.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", i.Endpoint, i.Port)
	cfg.DBName = i.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Conditional updates report matched rows, not changed rows.
	cfg.ClientFoundRows = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// CreateConnection opens and pings the pool.
func CreateConnection(i DBI) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", i.DSN())
	if err != nil {
		return nil, err
	}

	if i.MaxOpenConns > 0 {
		db.SetMaxOpenConns(i.MaxOpenConns)
	}
	if i.MaxIdleConns > 0 {
		db.SetMaxIdleConns(i.MaxIdleConns)
	}
	if i.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(i.ConnMaxLifetime)
	}
	return db, nil
}
