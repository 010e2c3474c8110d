package types

// SDI-12 configuration supplied on topic "config/sdi12".

type SDI12Config struct {
	Buses []SDI12BusConfig `json:"buses"`
}

type SDI12BusConfig struct {
	Name string `json:"name"`
	Pin  int    `json:"pin"`
	// TxEnable is the level-shifter direction pin; omit or -1 if not fitted.
	TxEnable *int `json:"tx_enable,omitempty"`
	// TimeoutValue is the parse sentinel; nil keeps the driver default.
	TimeoutValue      *int64 `json:"timeout_value,omitempty"`
	ParseTimeoutMs    int    `json:"parse_timeout_ms,omitempty"`
	ResponseTimeoutMs int    `json:"response_timeout_ms,omitempty"`
	// Active selects the bus that listens between transactions.
	Active bool `json:"active,omitempty"`
}

// Heartbeat configuration supplied on topic "config/heartbeat".

type HeartbeatConfig struct {
	Interval float64 `json:"interval"` // seconds
	Stats    bool    `json:"stats,omitempty"`
}
