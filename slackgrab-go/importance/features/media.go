package features

type mediaFeatures struct{}

// extract fills out[0:3]. The message carries no attachment count, so any
// attachment maps to the midpoint of the count feature.
func (mediaFeatures) extract(msg Message, out []float64) {
	out[0] = boolFeature(msg.HasAttachments)
	if msg.HasAttachments {
		out[1] = 0.5
	}
	out[2] = boolFeature(msg.ThreadID != "")
}
