package mtproto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/gotd/td/session"
)

func telethonStringSession(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 0, 263)
	raw = append(raw, 2)
	raw = append(raw, net.ParseIP("149.154.167.50").To4()...)
	raw = append(raw, 0x01, 0xBB)
	raw = append(raw, bytes.Repeat([]byte{0x42}, 256)...)
	return "1" + base64.URLEncoding.EncodeToString(raw)
}

func TestNormalizeTelethonStringSession(t *testing.T) {
	converted, wasConverted, err := NormalizeSessionBytes([]byte(telethonStringSession(t)))
	if err != nil {
		t.Fatalf("NormalizeSessionBytes: %v", err)
	}
	if !wasConverted {
		t.Fatal("строковая сессия Telethon должна требовать конверсии")
	}

	var payload struct {
		Version int
		Data    session.Data
	}
	if err := json.Unmarshal(converted, &payload); err != nil {
		t.Fatalf("результат не является gotd JSON: %v", err)
	}
	if payload.Version != 1 {
		t.Fatalf("Version = %d", payload.Version)
	}
	if payload.Data.DC != 2 {
		t.Fatalf("DC = %d", payload.Data.DC)
	}
	if payload.Data.Addr != "149.154.167.50:443" {
		t.Fatalf("Addr = %q", payload.Data.Addr)
	}
	if len(payload.Data.AuthKey) != 256 {
		t.Fatalf("длина auth key = %d", len(payload.Data.AuthKey))
	}
}

func TestNormalizePassesGotdJSONThrough(t *testing.T) {
	original := []byte(`{"Version":1,"Data":{"DC":2}}`)
	out, wasConverted, err := NormalizeSessionBytes(original)
	if err != nil {
		t.Fatalf("NormalizeSessionBytes: %v", err)
	}
	if wasConverted {
		t.Fatal("gotd JSON не должен конвертироваться")
	}
	if !bytes.Equal(out, original) {
		t.Fatal("gotd JSON изменён при нормализации")
	}
}

func TestNormalizeTelethonSessionJSON(t *testing.T) {
	rows := []byte(`[{"dc_id":4,"server_address":"149.154.167.91","port":443,"auth_key":"` +
		string(bytes.Repeat([]byte("ab"), 256)) + `"}]`)
	out, wasConverted, err := NormalizeSessionBytes(rows)
	if err != nil {
		t.Fatalf("NormalizeSessionBytes: %v", err)
	}
	if !wasConverted {
		t.Fatal("JSON-экспорт Telethon должен требовать конверсии")
	}
	var payload struct {
		Version int
		Data    session.Data
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		t.Fatalf("результат не является gotd JSON: %v", err)
	}
	if payload.Data.DC != 4 || payload.Data.Addr != "149.154.167.91:443" {
		t.Fatalf("Data = %+v", payload.Data)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, _, err := NormalizeSessionBytes([]byte("definitely not a session"))
	if !errors.Is(err, ErrUnsupportedSessionFormat) {
		t.Fatalf("ожидалась ErrUnsupportedSessionFormat, получено %v", err)
	}
}
