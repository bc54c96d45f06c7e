package names

import (
	"testing"
	"time"
)

func TestTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   time.Time
		wantOK bool
	}{
		{
			name:   "month-name form",
			in:     "2025Jul08-160405-Rec59.hda",
			want:   time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "underscore form without seconds",
			in:     "2025-07-08_1604.wav",
			want:   time.Date(2025, 7, 8, 16, 4, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "underscore form with seconds",
			in:     "2025-07-08_160405.wav",
			want:   time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "compact numeric form",
			in:     "20250708160405.hda",
			want:   time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "canonical local form",
			in:     "2025-07-08_16-04-05_Rec59.wav",
			want:   time.Date(2025, 7, 8, 16, 4, 5, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "december boundary",
			in:     "2024Dec31-235959-Memo.hda",
			want:   time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "unparseable name",
			in:     "VOICE001.hda",
			wantOK: false,
		},
		{
			name:   "malformed month",
			in:     "2025Xyz08-160405.hda",
			wantOK: false,
		},
		{
			name:   "empty",
			in:     "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Timestamp(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("Timestamp(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Timestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLocalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025Jul08-160405-Rec59.hda", "2025-07-08_16-04-05_Rec59.wav"},
		{"2025-07-08_1604.wav", "2025-07-08_16-04-00.wav"},
		{"20250708160405.hda", "2025-07-08_16-04-05.wav"},
		// Unparseable names keep their literal base, extension normalized.
		{"VOICE001.hda", "VOICE001.wav"},
		{"memo.mp3", "memo.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := LocalName(tt.in); got != tt.want {
				t.Errorf("LocalName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeExt(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{".hda", ".wav"},
		{".HDA", ".wav"},
		{".wav", ".wav"},
		{".MP3", ".mp3"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeExt(tt.in); got != tt.want {
			t.Errorf("NormalizeExt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameRecording(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "2025Jul08-160405.hda", "2025Jul08-160405.hda", true},
		{"hda vs wav", "VOICE001.hda", "VOICE001.wav", true},
		{"case insensitive base", "Voice001.hda", "voice001.wav", true},
		{"different recordings", "VOICE001.hda", "VOICE002.hda", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameRecording(tt.a, tt.b); got != tt.want {
				t.Errorf("SameRecording(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
