package trips

import "strings"

const (
	InPassengerVehicle  = "IN_PASSENGER_VEHICLE"
	Walking             = "WALKING"
	OnFoot              = "ON_FOOT"
	UnknownActivityType = "UNKNOWN_ACTIVITY_TYPE"
)

// Activity types used by Google location history.
var knownActivities = map[string]bool{
	"BOATING":           true,
	"CATCHING_POKEMON":  true,
	"CYCLING":           true,
	"FLYING":            true,
	"HIKING":            true,
	"HORSEBACK_RIDING":  true,
	"IN_BUS":            true,
	"IN_CABLECAR":       true,
	"IN_FERRY":          true,
	"IN_FUNICULAR":      true,
	"IN_GONDOLA_LIFT":   true,
	InPassengerVehicle:  true,
	"IN_RAIL_VEHICLE":   true,
	"IN_ROAD_VEHICLE":   true,
	"IN_SUBWAY":         true,
	"IN_TAXI":           true,
	"IN_TRAIN":          true,
	"IN_TRAM":           true,
	"IN_VEHICLE":        true,
	"IN_WHEELCHAIR":     true,
	"KAYAKING":          true,
	"KITESURFING":       true,
	"MOTORCYCLING":      true,
	"ON_BICYCLE":        true,
	OnFoot:              true,
	"PARAGLIDING":       true,
	"ROWING":            true,
	"RUNNING":           true,
	"SAILING":           true,
	"SKATEBOARDING":     true,
	"SKATING":           true,
	"SKIING":            true,
	"SLEDDING":          true,
	"SNOWBOARDING":      true,
	"SNOWMOBILE":        true,
	"SNOWSHOEING":       true,
	"STILL":             true,
	"SURFING":           true,
	"SWIMMING":          true,
	UnknownActivityType: true,
	Walking:             true,
	"WALKING_NORDIC":    true,
}

func KnownActivity(label string) bool {
	return knownActivities[label]
}

// NormalizeActivity converts the lower case labels of the on-device exports
// ("in passenger vehicle") to the enumerated form (IN_PASSENGER_VEHICLE).
func NormalizeActivity(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return UnknownActivityType
	}
	label = strings.ToUpper(strings.Join(strings.Fields(label), "_"))
	if label == "UNKNOWN" {
		return UnknownActivityType
	}
	return label
}
