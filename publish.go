package sigacq

// Contains the client updater, which publishes JSON-encoded status messages
// (sweep summaries, instrument state) on a ZMQ PUB socket.

import (
	"encoding/json"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	tag     string
	message []byte
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket, until the abort channel closes. Each update goes out as
// a 2-frame message: topic tag, then JSON payload.
func RunClientUpdater(messages <-chan ClientUpdate, abort <-chan struct{}, portstatus int) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portstatus)); err != nil {
		return
	}

	for {
		select {
		case update := <-messages:
			pubSocket.SendMessage(update.tag, update.message)
		case <-abort:
			return
		}
	}
}

// PeakSummary is the JSON shape of one detected peak.
type PeakSummary struct {
	FreqHz float64 `json:"freqHz"`
	DBm    float32 `json:"dBm"`
}

// SweepSummary is the JSON shape of one completed sweep on one channel.
type SweepSummary struct {
	Channel   string        `json:"channel"`
	Points    int           `json:"points"`
	StartHz   float64       `json:"startHz"`
	StopHz    float64       `json:"stopHz"`
	StartTime time.Time     `json:"startTime"`
	Peaks     []PeakSummary `json:"peaks"`
}

// SweepUpdates converts a completed sequence set into per-channel status
// messages, tagged SWEEP.
func SweepUpdates(set SequenceSet) []ClientUpdate {
	var updates []ClientUpdate
	for ch, w := range set {
		n := w.Len()
		sec, fs := w.StartTime()
		summary := SweepSummary{
			Channel:   ch.DisplayName(),
			Points:    n,
			StartHz:   float64(w.TriggerPhase()),
			StopHz:    float64(w.TriggerPhase() + int64(n)*w.Timescale()),
			StartTime: time.Unix(sec, fs/1e6),
		}
		for _, p := range ch.Peaks() {
			summary.Peaks = append(summary.Peaks, PeakSummary{FreqHz: float64(p.X), DBm: p.Y})
		}
		msg, err := json.Marshal(summary)
		if err != nil {
			ProblemLogger.Printf("could not marshal sweep summary for %s: %v", ch.DisplayName(), err)
			continue
		}
		updates = append(updates, ClientUpdate{tag: "SWEEP", message: msg})
	}
	return updates
}

// StatusUpdate reports overall server state, tagged STATUS.
func StatusUpdate(running bool, sweeps int64) ClientUpdate {
	status := struct {
		Running    bool   `json:"running"`
		Sweeps     int64  `json:"sweeps"`
		Version    string `json:"version"`
		ServerHost string `json:"serverHost"`
	}{running, sweeps, Build.Version, Build.Host}
	msg, _ := json.Marshal(status)
	return ClientUpdate{tag: "STATUS", message: msg}
}
