package features

type channelFeatures struct {
	isDirect IDPredicate
}

func (c channelFeatures) extract(channelID string, importance float64, out []float64) {
	out[0] = importance
	out[1] = boolFeature(channelID != "" && c.isDirect(channelID))
}
