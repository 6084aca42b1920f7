package openrouteservice

type directionsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
	Preference  string       `json:"preference"`
	Units       string       `json:"units"`
	Geometry    bool         `json:"geometry"`
}

type directionsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"` // meters
			Duration float64 `json:"duration"` // seconds
		} `json:"summary"`
		Geometry string `json:"geometry"`
	} `json:"routes"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorCodeRouteNotFound is returned with a 400 when no route connects the points.
const errorCodeRouteNotFound = 2009
