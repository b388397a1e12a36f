package netquality

import "time"

// Class is an effective connection type in the style of the browser Network
// Information API
type Class string

const (
	ClassUnknown Class = "unknown"
	ClassSlow2G  Class = "slow-2g"
	Class2G      Class = "2g"
	Class3G      Class = "3g"
	Class4G      Class = "4g"
)

// Classify maps a round-trip time and downlink estimate (kbit/s) to a class.
// A non-positive downlink means it was not measured and only the RTT counts.
func Classify(rtt time.Duration, downlinkKbps float64) Class {
	measured := downlinkKbps > 0
	switch {
	case rtt >= 2000*time.Millisecond || (measured && downlinkKbps < 50):
		return ClassSlow2G
	case rtt >= 1400*time.Millisecond || (measured && downlinkKbps < 70):
		return Class2G
	case rtt >= 270*time.Millisecond || (measured && downlinkKbps < 700):
		return Class3G
	case rtt > 0:
		return Class4G
	}
	return ClassUnknown
}

// Quality is the verdict of the most recent connection sample
type Quality struct {
	Class        Class         `json:"class"`
	RTT          time.Duration `json:"rtt"`
	DownlinkKbps float64       `json:"downlink_kbps"`
	Failures     int           `json:"consecutive_failures"`
	Sufficient   bool          `json:"sufficient"`
	SampledAt    time.Time     `json:"sampled_at"`
}
