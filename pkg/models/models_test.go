package models

import "testing"

func strPtr(s string) *string { return &s }

func TestCheckpointID(t *testing.T) {
	tests := []struct {
		name      string
		cpType    string
		guildID   *string
		channelID *string
		want      string
	}{
		{"full scope", CheckpointTypeBackfill, strPtr("123"), strPtr("456"), "backfill_123_456"},
		{"guild only", CheckpointTypeMessage, strPtr("123"), nil, "message_123_all"},
		{"global", CheckpointTypeMessage, nil, nil, "message_global_all"},
		{"empty strings treated as missing", CheckpointTypeBackfill, strPtr(""), strPtr(""), "backfill_global_all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckpointID(tt.cpType, tt.guildID, tt.channelID); got != tt.want {
				t.Errorf("CheckpointID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"webhook_id": "42", "count": float64(3)}

	v, err := m.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var out JSONMap
	if err := out.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if out["webhook_id"] != "42" || out["count"] != float64(3) {
		t.Errorf("round trip lost data: %v", out)
	}
}

func TestJSONMapNil(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != nil {
		t.Errorf("nil map should store NULL, got %v", v)
	}

	var out JSONMap
	if err := out.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if out != nil {
		t.Errorf("scanning NULL should produce nil, got %v", out)
	}
}
