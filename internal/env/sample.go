package env

// Sample represents a single ambient measurement inside the enclosure.
type Sample struct {
	Source string `json:"source"` // sensor name, e.g. "bme280"

	Temperature float64 `json:"temp_c"`       // °C
	Humidity    float64 `json:"humidity_pct"` // %RH
	PressureHPa float64 `json:"pressure_hpa"` // 0 when the sensor has no barometer
}
