package telemetry

type Provider interface {
	Snapshot() Snapshot
}

// Snapshot is a point-in-time copy of the shared telemetry
type Snapshot struct {
	Front          int      `json:"front"`                    // Front distance in mm, -1 if unknown
	Left           int      `json:"left"`                     // Left distance in mm, -1 if unknown
	Top            int      `json:"top"`                      // Distance to ceiling in mm, -1 if unknown
	Down           int      `json:"down"`                     // Distance to floor in mm, -1 if unknown
	Right          int      `json:"right"`                    // Right distance in mm, -1 if unknown
	BatteryVoltage *float64 `json:"batteryVoltage,omitempty"` // Pack voltage in V
	Landed         bool     `json:"landed"`
	StopRequested  bool     `json:"stopRequested"`
}
