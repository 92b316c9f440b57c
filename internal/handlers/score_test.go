package handlers

import "testing"

func TestParseScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		want    float32
		wantErr bool
	}{
		{"bare number", "87", 87, false},
		{"decimal", "62.5", 62.5, false},
		{"leading whitespace", "  73\n", 73, false},
		{"number then prose", "95 strong fit for this audience", 95, false},
		{"percent suffix", "40%", 40, false},
		{"clamped above range", "150", 100, false},
		{"clamped below range", "-3", 0, false},
		{"empty reply", "", 0, true},
		{"prose only", "great fit", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseScore(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseScore(%q) error = nil, want error", tt.reply)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseScore(%q) error = %v", tt.reply, err)
			}
			if got != tt.want {
				t.Errorf("parseScore(%q) = %v, want %v", tt.reply, got, tt.want)
			}
		})
	}
}
