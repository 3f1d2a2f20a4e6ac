package timesync

import (
	"encoding/json"

	"github.com/n0remac/syncplay/protocol"
)

func marshalTimeSyncUpdate(offsetMs, pingMs float64) (json.RawMessage, error) {
	return json.Marshal(protocol.TimeSyncServerUpdatePayload{TimeOffsetMs: offsetMs, PingMs: pingMs})
}
