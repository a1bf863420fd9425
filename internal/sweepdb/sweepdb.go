// Package sweepdb records completed sweeps in a ClickHouse database.
package sweepdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "sigacq" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// Connection wraps one ClickHouse connection plus the session row it logs
// under. A zero-value (dummy) Connection accepts and discards all messages.
type Connection struct {
	conn         clickhouse.Conn
	err          error
	sessionEntry *SessionMessage
	sweepmsg     chan *SweepMessage
	sync.WaitGroup
}

// NewSweepID returns a fresh ULID string, usable as a sweeps-table primary key.
func NewSweepID() string {
	return ulid.Make().String()
}

func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer connects, prints the server version, and disconnects.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// StartConnection connects to the database, logs the session row, and starts
// the goroutine that serializes sweep inserts. The connection runs until the
// abort channel closes.
func StartConnection(session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.sessionEntry = session
	db.logSession()
	db.Add(1)
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a Connection that records nothing, for use when
// the database is disabled by configuration.
func DummyConnection() *Connection {
	return &Connection{}
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("SIGACQ_DB_USER"),
		Password: os.Getenv("SIGACQ_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "sigacq", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.sweepmsg = make(chan *SweepMessage)
	return db
}

func (db *Connection) logSession() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	se := db.sessionEntry
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		se.ID, se.Hostname, se.Githash, se.Version, se.GoVersion,
		se.Start.Format(timeFormat), se.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case msg := <-db.sweepmsg:
			db.handleSweepMessage(msg)
		}
	}
}

// Disconnect re-logs the session row with its end time filled in.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.sessionEntry.End = time.Now()
		db.logSession()
	}
}

// RecordSweep stores one sweep row in the DB (if it's open). The send is
// asynchronous: acquisition never blocks on the database.
func (db *Connection) RecordSweep(msg *SweepMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.sweepmsg <- msg }()
}

func (db *Connection) handleSweepMessage(m *SweepMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO sweeps VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.sessionEntry.ID, m.Channel, m.Points,
		m.StartHz, m.StopHz, m.RbwHz, m.PeakHz, m.PeakDBm,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sweeps ", err)
		db.err = err
	}
}
