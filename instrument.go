package sigacq

import "sync"

// AnyInstrument implements the state common to every instrument driver:
// identity strings, the owned channel list, trigger arming, and the pending
// queue of captured SequenceSets.
//
// The pending queue is the transfer-of-ownership boundary between the
// acquisition goroutine (producer, appends at the back) and display or
// processing consumers (pop from the front). Order across the queue is FIFO
// and preserved; it is guarded by its own mutex, independent of the
// conversation lock.
type AnyInstrument struct {
	name      string
	vendor    string
	model     string
	fwVersion string

	channelLock sync.Mutex
	channels    []*Channel

	pendingLock sync.Mutex
	pending     []SequenceSet

	trigLock       sync.Mutex
	triggerArmed   bool
	triggerOneShot bool
}

func (ins *AnyInstrument) Name() string      { return ins.name }
func (ins *AnyInstrument) Vendor() string    { return ins.vendor }
func (ins *AnyInstrument) Model() string     { return ins.model }
func (ins *AnyInstrument) FwVersion() string { return ins.fwVersion }

func (ins *AnyInstrument) addChannel(ch *Channel) {
	ins.channelLock.Lock()
	defer ins.channelLock.Unlock()
	ins.channels = append(ins.channels, ch)
}

// Channels returns a copy of the owned channel list.
func (ins *AnyInstrument) Channels() []*Channel {
	ins.channelLock.Lock()
	defer ins.channelLock.Unlock()
	chans := make([]*Channel, len(ins.channels))
	copy(chans, ins.channels)
	return chans
}

// Channel returns the i-th channel, or nil if out of range.
func (ins *AnyInstrument) Channel(i int) *Channel {
	ins.channelLock.Lock()
	defer ins.channelLock.Unlock()
	if i < 0 || i >= len(ins.channels) {
		return nil
	}
	return ins.channels[i]
}

// EnqueueSequenceSet appends one finished capture set at the back of the
// pending queue.
func (ins *AnyInstrument) EnqueueSequenceSet(s SequenceSet) {
	ins.pendingLock.Lock()
	defer ins.pendingLock.Unlock()
	ins.pending = append(ins.pending, s)
}

// PopSequenceSet removes and returns the oldest pending capture set, or
// ok=false when none is pending.
func (ins *AnyInstrument) PopSequenceSet() (SequenceSet, bool) {
	ins.pendingLock.Lock()
	defer ins.pendingLock.Unlock()
	if len(ins.pending) == 0 {
		return nil, false
	}
	s := ins.pending[0]
	ins.pending = ins.pending[1:]
	return s, true
}

// PendingCount reports how many capture sets are waiting to be drained.
func (ins *AnyInstrument) PendingCount() int {
	ins.pendingLock.Lock()
	defer ins.pendingLock.Unlock()
	return len(ins.pending)
}

// Start arms the trigger for free-running acquisition.
func (ins *AnyInstrument) Start() {
	ins.trigLock.Lock()
	defer ins.trigLock.Unlock()
	ins.triggerArmed = true
	ins.triggerOneShot = false
}

// StartSingleTrigger arms the trigger for exactly one acquisition.
func (ins *AnyInstrument) StartSingleTrigger() {
	ins.trigLock.Lock()
	defer ins.trigLock.Unlock()
	ins.triggerArmed = true
	ins.triggerOneShot = true
}

// Stop disarms the trigger.
func (ins *AnyInstrument) Stop() {
	ins.trigLock.Lock()
	defer ins.trigLock.Unlock()
	ins.triggerArmed = false
	ins.triggerOneShot = false
}

// ForceTrigger arms for a single immediate acquisition.
func (ins *AnyInstrument) ForceTrigger() {
	ins.trigLock.Lock()
	defer ins.trigLock.Unlock()
	ins.triggerArmed = true
	ins.triggerOneShot = true
}

// TriggerArmed reports whether an acquisition should run this cycle.
func (ins *AnyInstrument) TriggerArmed() bool {
	ins.trigLock.Lock()
	defer ins.trigLock.Unlock()
	return ins.triggerArmed
}

// disarmAfterOneShot clears the armed flag after a successful one-shot
// acquisition. A failed acquisition must leave trigger state unchanged.
func (ins *AnyInstrument) disarmAfterOneShot() {
	ins.trigLock.Lock()
	defer ins.trigLock.Unlock()
	if ins.triggerOneShot {
		ins.triggerArmed = false
	}
}

// ChannelsDownloadStatusUpdate propagates binary-transfer progress to one
// channel's download state, for UI consumers polling DownloadState.
func (ins *AnyInstrument) ChannelsDownloadStatusUpdate(i int, fraction float64) {
	if ch := ins.Channel(i); ch != nil {
		ch.setDownloadProgress(fraction)
	}
}

// ChannelsDownloadWaiting marks every enabled channel as queued for
// download.
func (ins *AnyInstrument) ChannelsDownloadWaiting() {
	for _, ch := range ins.Channels() {
		if ch.IsEnabled() {
			ch.setDownloadState(DownloadWaiting)
		}
	}
}

// ChannelsDownloadFinished tells download monitors the transfer completed.
func (ins *AnyInstrument) ChannelsDownloadFinished() {
	for _, ch := range ins.Channels() {
		if ch.IsEnabled() {
			ch.setDownloadState(DownloadFinished)
		}
	}
}
