package sweepdb

import "time"

// The composite types used for messages to the ClickHouse database.

// SessionMessage is the information for the sessions table: one row per
// server run, bracketing every sweep recorded during it.
type SessionMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	Start     time.Time
	End       time.Time
}

// SweepMessage is the information required to make an entry in the sweeps table.
type SweepMessage struct {
	ID        string
	SessionID string
	Channel   string
	Points    int
	StartHz   float64
	StopHz    float64
	RbwHz     float64
	PeakHz    float64
	PeakDBm   float64
	Start     time.Time
	End       time.Time
}
