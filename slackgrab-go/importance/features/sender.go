package features

import spooky "github.com/dgryski/go-spooky"

type senderFeatures struct {
	isBot IDPredicate
}

// extract fills out[0:5]: importance, frequency, interaction rate, average
// importance and the bot flag. Interaction rate has no signal yet and stays
// neutral.
func (s senderFeatures) extract(senderID string, importance float64, out []float64) {
	out[0] = importance
	out[1] = senderFrequency(senderID)
	out[2] = Neutral
	out[3] = importance
	out[4] = boolFeature(senderID != "" && s.isBot(senderID))
}

// senderFrequency is a stable per-sender value in [0,1) standing in for
// posting frequency until real history is available.
func senderFrequency(senderID string) float64 {
	if senderID == "" {
		return Neutral
	}
	return float64(spooky.Hash64([]byte(senderID))%100) / 100
}
