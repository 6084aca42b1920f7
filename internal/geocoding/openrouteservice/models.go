package openrouteservice

// geocodeResponse represents the ORS geocode search response (GeoJSON).
type geocodeResponse struct {
	Type     string           `json:"type"`
	Features []geocodeFeature `json:"features"`
}

// geocodeFeature is one matched place.
type geocodeFeature struct {
	Geometry   pointGeometry     `json:"geometry"`
	Properties featureProperties `json:"properties"`
}

// pointGeometry holds [lon, lat] coordinates.
type pointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// featureProperties describes a matched place.
type featureProperties struct {
	Label      string  `json:"label"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Layer      string  `json:"layer,omitempty"`
	Country    string  `json:"country,omitempty"`
}

// orsErrorResponse represents an ORS error response.
type orsErrorResponse struct {
	Error any `json:"error"`
}
