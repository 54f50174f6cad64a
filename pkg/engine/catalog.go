package engine

import "coastwatch.dev/alert-engine/pkg/models"

// sensorSpec describes one registered sensor type: its canonical unit, the
// source units convertible to it, the threat type its triggers map to, and
// the factory-default trigger levels used until operators configure theirs.
type sensorSpec struct {
	canonicalUnit string
	convert       map[string]func(float64) float64
	threatType    string
	defaults      ThresholdLevels
}

var sensorCatalog = map[models.SensorType]sensorSpec{
	models.SensorTypeSeaLevel: {
		canonicalUnit: "m",
		convert: map[string]func(float64) float64{
			"cm": func(v float64) float64 { return v / 100 },
			"ft": func(v float64) float64 { return v * 0.3048 },
		},
		threatType: "Sea Level Rise",
		defaults:   ThresholdLevels{Low: 0.5, Moderate: 1.0, High: 1.5, Critical: 2.0},
	},
	models.SensorTypeWindSpeed: {
		canonicalUnit: "km/h",
		convert: map[string]func(float64) float64{
			"m/s":   func(v float64) float64 { return v * 3.6 },
			"knots": func(v float64) float64 { return v * 1.852 },
			"mph":   func(v float64) float64 { return v * 1.609344 },
		},
		threatType: "Cyclone",
		defaults:   ThresholdLevels{Low: 25, Moderate: 40, High: 60, Critical: 80},
	},
	models.SensorTypeWaveHeight: {
		canonicalUnit: "m",
		convert: map[string]func(float64) float64{
			"cm": func(v float64) float64 { return v / 100 },
			"ft": func(v float64) float64 { return v * 0.3048 },
		},
		threatType: "Storm Surge",
		defaults:   ThresholdLevels{Low: 2.0, Moderate: 3.5, High: 5.0, Critical: 7.0},
	},
	models.SensorTypeTemperature: {
		// thresholds are degrees above seasonal baseline, not absolute
		canonicalUnit: "°C",
		convert: map[string]func(float64) float64{
			"°F": func(v float64) float64 { return v * 5 / 9 },
			// a kelvin delta is a celsius delta
			"K": func(v float64) float64 { return v },
		},
		threatType: "Algal Bloom",
		defaults:   ThresholdLevels{Low: 2.0, Moderate: 4.0, High: 6.0, Critical: 8.0},
	},
	models.SensorTypePH: {
		// deviation from the 8.1 ocean baseline
		canonicalUnit: "pH",
		convert:       map[string]func(float64) float64{},
		threatType:    "Algal Bloom",
		defaults:      ThresholdLevels{Low: 0.2, Moderate: 0.4, High: 0.6, Critical: 0.9},
	},
	models.SensorTypeSalinity: {
		// deviation from local baseline, practical salinity units
		canonicalUnit: "PSU",
		convert: map[string]func(float64) float64{
			"ppt": func(v float64) float64 { return v },
		},
		threatType: "Illegal Dumping",
		defaults:   ThresholdLevels{Low: 2.0, Moderate: 4.0, High: 6.0, Critical: 9.0},
	},
}

// ThreatTypeFor maps a sensor type to the threat its triggers raise.
func ThreatTypeFor(sensorType models.SensorType) string {
	if spec, ok := sensorCatalog[sensorType]; ok {
		return spec.threatType
	}
	return ""
}

// CanonicalUnitFor returns the unit readings are normalized to.
func CanonicalUnitFor(sensorType models.SensorType) (string, bool) {
	spec, ok := sensorCatalog[sensorType]
	if !ok {
		return "", false
	}
	return spec.canonicalUnit, true
}
