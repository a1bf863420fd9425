package sigacq

import (
	"fmt"
	"sync"
)

// StreamType distinguishes the kinds of data a stream can carry.
type StreamType int

const (
	StreamAnalog StreamType = iota
	StreamDigital
	StreamProtocol // sparse decoded symbols
)

// Stream is one named, unit-typed data series within a channel, e.g. "mag"
// in dB and "angle" in degrees for an S-parameter channel. Its identity is
// fixed once the owning channel's construction phase ends.
type Stream struct {
	name  string
	yUnit Unit
	stype StreamType
}

func (s Stream) Name() string     { return s.name }
func (s Stream) YUnit() Unit      { return s.yUnit }
func (s Stream) Type() StreamType { return s.stype }

// Coupling enumerates the hardware input coupling states of a channel.
type Coupling int

const (
	CoupleDC1M      Coupling = iota // 1M ohm, DC coupled
	CoupleAC1M                      // 1M ohm, AC coupled
	CoupleDC50                      // 50 ohm, DC coupled
	CoupleAC50                      // 50 ohm, AC coupled
	CoupleGround                    // tie to ground
	CoupleSynthetic                 // math, digital, or otherwise not a direct measurement
)

// DownloadState is the progress value returned by Channel.DownloadState.
// Values 0..100 are a percentage; negative values are sentinels and must be
// treated as an enum, never as a percentage.
type DownloadState int

const (
	// DownloadProgressDisabled tells the UI not to show a progress bar,
	// e.g. when the whole waveform downloads fast enough.
	DownloadProgressDisabled DownloadState = -3
	// DownloadNone means no download is pending.
	DownloadNone DownloadState = -2
	// DownloadWaiting means the channel is queued behind other channels.
	DownloadWaiting DownloadState = -1
	// DownloadStarted is the zero-percent mark of an active download.
	DownloadStarted DownloadState = 0
	// DownloadFinished is the hundred-percent mark.
	DownloadFinished DownloadState = 100
)

// Peak is one spectral peak found by the post-acquisition analysis pass:
// the X position in the waveform's X unit and the value there.
type Peak struct {
	X int64
	Y float32
}

// Channel identifies one logical measurement source on an instrument, or a
// synthetic/math source when instrument is nil. Channels are created once
// at device bring-up by the owning instrument and live until it does.
//
// Enable state is reference counted: AddRef/Release are the cooperative API
// for multiple consumers, while Enable/Disable force the state and are
// documented as dangerous for shared use.
type Channel struct {
	mu sync.Mutex

	instrument  *AnyInstrument // owner; nil for synthetic channels
	hwname      string
	displayName string
	color       string
	index       int
	xUnit       Unit

	refcount int
	enabled  bool

	coupling     Coupling
	attenuation  float64
	bandwidthMHz int
	deskew       int64

	streams []Stream
	sealed  bool

	download DownloadState
	peaks    []Peak
}

// ChannelSetup is the construction-phase capability for a channel. Only the
// owning instrument driver holds one, and only until it calls Seal; the
// stream list is immutable afterward.
type ChannelSetup struct {
	ch *Channel
}

// NewChannel creates a channel owned by instrument (nil for synthetic
// sources) and returns it together with its one-shot setup capability.
func NewChannel(instrument *AnyInstrument, hwname, color string, xUnit Unit, index int) (*Channel, *ChannelSetup) {
	ch := &Channel{
		instrument:  instrument,
		hwname:      hwname,
		displayName: hwname,
		color:       color,
		index:       index,
		xUnit:       xUnit,
		coupling:    CoupleSynthetic,
		attenuation: 1.0,
		download:    DownloadNone,
	}
	if instrument != nil {
		instrument.addChannel(ch)
	}
	return ch, &ChannelSetup{ch: ch}
}

// AddStream appends one stream during the construction phase.
func (cs *ChannelSetup) AddStream(yUnit Unit, name string, stype StreamType) error {
	cs.ch.mu.Lock()
	defer cs.ch.mu.Unlock()
	if cs.ch.sealed {
		return fmt.Errorf("channel %s: AddStream after construction phase ended", cs.ch.hwname)
	}
	cs.ch.streams = append(cs.ch.streams, Stream{name: name, yUnit: yUnit, stype: stype})
	return nil
}

// Seal ends the construction phase. A hardware-backed channel must have at
// least one stream by now.
func (cs *ChannelSetup) Seal() error {
	cs.ch.mu.Lock()
	defer cs.ch.mu.Unlock()
	cs.ch.sealed = true
	if cs.ch.instrument != nil && len(cs.ch.streams) == 0 {
		return fmt.Errorf("channel %s: physical channel sealed with no streams", cs.ch.hwname)
	}
	return nil
}

// NewSpectrumChannel creates a single-stream dBm channel, the shape used by
// spectrum analyzer captures.
func NewSpectrumChannel(instrument *AnyInstrument, hwname, color string, index int) *Channel {
	ch, setup := NewChannel(instrument, hwname, color, UnitHertz, index)
	setup.AddStream(UnitDBM, "power", StreamAnalog)
	setup.Seal()
	return ch
}

// NewSParameterChannel creates a two-stream channel holding S-parameter data
// in dB magnitude and degrees phase.
func NewSParameterChannel(instrument *AnyInstrument, hwname, color string, index int) *Channel {
	ch, setup := NewChannel(instrument, hwname, color, UnitHertz, index)
	setup.AddStream(UnitDB, "mag", StreamAnalog)
	setup.AddStream(UnitDegrees, "angle", StreamAnalog)
	setup.Seal()
	return ch
}

func (ch *Channel) HwName() string { return ch.hwname }
func (ch *Channel) Color() string  { return ch.color }
func (ch *Channel) Index() int     { return ch.index }
func (ch *Channel) XUnit() Unit    { return ch.xUnit }

// IsPhysical reports whether the channel is backed by hardware.
func (ch *Channel) IsPhysical() bool { return ch.instrument != nil }

func (ch *Channel) DisplayName() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.displayName
}

func (ch *Channel) SetDisplayName(name string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.displayName = name
}

// Streams returns the channel's streams. The slice is fixed after Seal, so
// callers may read it without further locking.
func (ch *Channel) Streams() []Stream {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.streams
}

// IsEnabled reports whether the channel is currently on.
func (ch *Channel) IsEnabled() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.enabled
}

// RefCount returns the current consumer count.
func (ch *Channel) RefCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.refcount
}

// Enable forces the channel on, bypassing the reference count.
// Warning: may break other code that assumes cooperative enable tracking.
func (ch *Channel) Enable() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.enabled = true
}

// Disable forces the channel off, bypassing the reference count.
// Warning: consumers that still hold a reference will stop getting data.
func (ch *Channel) Disable() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.enabled = false
}

// AddRef registers one more consumer and turns the channel on.
func (ch *Channel) AddRef() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.refcount++
	ch.enabled = true
}

// Release drops one consumer, powering the channel off only when the last
// reference goes away. Release on a zero count is a no-op: the count never
// goes negative.
func (ch *Channel) Release() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.refcount == 0 {
		return
	}
	ch.refcount--
	if ch.refcount == 0 {
		ch.enabled = false
	}
}

func (ch *Channel) GetCoupling() Coupling {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.coupling
}

func (ch *Channel) SetCoupling(c Coupling) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.coupling = c
}

func (ch *Channel) GetAttenuation() float64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.attenuation
}

func (ch *Channel) SetAttenuation(atten float64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.attenuation = atten
}

func (ch *Channel) GetBandwidthLimit() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.bandwidthMHz
}

func (ch *Channel) SetBandwidthLimit(mhz int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.bandwidthMHz = mhz
}

func (ch *Channel) GetDeskew() int64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.deskew
}

func (ch *Channel) SetDeskew(skew int64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.deskew = skew
}

// DownloadState returns either a percentage [0,100] or one of the negative
// sentinel codes.
func (ch *Channel) DownloadState() DownloadState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.download
}

func (ch *Channel) setDownloadState(s DownloadState) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.download = s
}

// setDownloadProgress maps a fraction [0,1] onto the percentage range.
func (ch *Channel) setDownloadProgress(fraction float64) {
	pct := DownloadState(fraction * 100)
	if pct < DownloadStarted {
		pct = DownloadStarted
	}
	if pct > DownloadFinished {
		pct = DownloadFinished
	}
	ch.setDownloadState(pct)
}

// SetPeaks stores the result of the post-acquisition peak search.
func (ch *Channel) SetPeaks(peaks []Peak) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.peaks = peaks
}

// Peaks returns the peaks found in the most recent acquisition.
func (ch *Channel) Peaks() []Peak {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.peaks
}
