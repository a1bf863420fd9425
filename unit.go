package sigacq

// Unit identifies the physical unit of one axis of a stream or waveform.
type Unit int

// Units used by the acquisition and decode pipeline.
const (
	UnitFemtoseconds Unit = iota // X axis of time-domain captures
	UnitHertz                    // X axis of spectrum captures
	UnitVolts
	UnitDBM
	UnitDB
	UnitDegrees
	UnitCounts // dimensionless, e.g. decoded symbol payloads
)

func (u Unit) String() string {
	switch u {
	case UnitFemtoseconds:
		return "fs"
	case UnitHertz:
		return "Hz"
	case UnitVolts:
		return "V"
	case UnitDBM:
		return "dBm"
	case UnitDB:
		return "dB"
	case UnitDegrees:
		return "deg"
	case UnitCounts:
		return "counts"
	}
	return "unknown"
}

// FemtosecondsPerSecond converts between the two halves of a split
// wall-clock timestamp.
const FemtosecondsPerSecond = int64(1e15)
