package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// Pico with two SDI-12 ports behind level shifters (direction on GP3 and
// GP5) and the bridge link on UART0.
const cfgPico = `{
  "sdi12": {
    "buses": [
      {"name": "sdi0", "pin": 10, "tx_enable": 3, "active": true, "response_timeout_ms": 250},
      {"name": "sdi1", "pin": 11, "tx_enable": 5, "response_timeout_ms": 250}
    ]
  },
  "bridge": {
    "transport": {"type": "uart", "uart": {"index": 0, "baud": 115200, "tx_pin": 0, "rx_pin": 1}}
  },
  "heartbeat": {
    "interval": 10,
    "stats": true
  }
}`

// Bare Pico: one bus on GP10, no level shifter, no bridge.
const cfgPicoMinimal = `{
  "sdi12": {
    "buses": [
      {"name": "sdi0", "pin": 10, "active": true}
    ]
  },
  "heartbeat": {
    "interval": 2
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico":         []byte(cfgPico),
	"pico-minimal": []byte(cfgPicoMinimal),
}
