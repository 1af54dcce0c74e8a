// Package anomaly implements the statistical detector: rate-based feature
// extraction per flow and a pluggable scoring model behind model.Scorer.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"FlowSentry/internal/model"
)

// minDuration is the floor for flow age so rates stay finite for flows
// whose first packet just arrived.
const minDuration = time.Millisecond

// numFeatures is the width of the flow feature vector.
const numFeatures = 4

// ExtractFeatures builds the 4-feature vector
// [packet_count, total_size, byte_rate, packet_rate] for a flow at time now.
// Byte and packet rates normalize for flow age, making short- and
// long-lived flows comparable.
func ExtractFeatures(ev *model.FlowEvent, now time.Time) ([4]float64, error) {
	duration := ev.Duration(now, minDuration).Seconds()

	f := [4]float64{
		float64(ev.PacketCount),
		float64(ev.TotalSize),
		float64(ev.TotalSize) / duration,
		float64(ev.PacketCount) / duration,
	}

	for i, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return [4]float64{}, fmt.Errorf("feature %d is not a finite non-negative number: %v", i, v)
		}
	}
	return f, nil
}
