package jsonx

import (
	"errors"
	"testing"

	"sdi12-go/errcode"
)

type busCfg struct {
	Name string `json:"name"`
	Pin  int    `json:"pin"`
}

func TestDecode_Shapes(t *testing.T) {
	want := busCfg{Name: "sdi0", Pin: 10}
	srcs := []any{
		want,
		&want,
		[]byte(`{"name":"sdi0","pin":10}`),
		`{"name":"sdi0","pin":10}`,
		map[string]any{"name": "sdi0", "pin": float64(10)},
	}
	for i, src := range srcs {
		var got busCfg
		if err := Decode(src, &got); err != nil {
			t.Fatalf("src %d (%T): %v", i, src, err)
		}
		if got != want {
			t.Fatalf("src %d: got %+v", i, got)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	var got busCfg
	for _, src := range []any{nil, (*busCfg)(nil), `{"pin":"ten"}`, []byte("{")} {
		err := Decode(src, &got)
		if !errors.Is(err, errcode.InvalidPayload) {
			t.Fatalf("Decode(%#v) err=%v want invalid_payload", src, err)
		}
	}
}
