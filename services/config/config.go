package config

import (
	"context"

	"sdi12-go/bus"
	"sdi12-go/errcode"

	"github.com/andreyvit/tinyjson"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	ctxDeviceKey = "device" // context key used for device ID
)

// CtxDeviceKey is the context key carrying the device ID.
var CtxDeviceKey any = ctxDeviceKey

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig decodes the device's embedded JSON object and publishes
// each top-level key as a retained message on config/<key>.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.publish", Msg: "missing device ID in context"}
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return &errcode.E{C: errcode.Unsupported, Op: "config.publish", Msg: "no embedded config for device " + device}
	}

	m, err := decodeObject(raw)
	if err != nil {
		return err
	}

	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// decodeObject parses raw as a single JSON object. tinyjson panics on
// malformed input, so the panic is turned into an invalid_payload error.
func decodeObject(raw []byte) (m map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, _ := r.(string)
			if msg == "" {
				msg = "invalid JSON"
			}
			m, err = nil, &errcode.E{C: errcode.InvalidPayload, Op: "config.publish", Msg: msg}
		}
	}()
	r := tinyjson.Raw(raw)
	val := r.Value() // should be a map[string]any
	r.EnsureEOF()
	m, ok := val.(map[string]any)
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidPayload, Op: "config.publish", Msg: "embedded config is not a JSON object"}
	}
	return m, nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config] publish failed:", err.Error())
		}
	}()
}
