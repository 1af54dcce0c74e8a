package model

// Scorer is a pluggable anomaly model consuming the 4-feature flow vector
// [packet_count, total_size, byte_rate, packet_rate]. It returns a
// continuous anomaly score and a binary flag. Training is out of scope;
// implementations load a pre-trained artifact.
type Scorer interface {
	Score(features [4]float64) (score float64, anomaly bool)
}
