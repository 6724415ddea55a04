package urls_test

import (
	"testing"

	"hozon/pkg/urls"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want  string
		wantValid bool
	}{
		{in: "  https://www.youtube.com/watch?v=abc ", want: "https://www.youtube.com/watch?v=abc", wantValid: true},
		{in: "youtu.be/abc", want: "https://youtu.be/abc", wantValid: true},
		{in: "ftp://example.com/file", want: "ftp://example.com/file", wantValid: false},
		{in: "", want: "", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got := urls.Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}

			if valid := urls.IsURLValid(got); valid != tt.wantValid {
				t.Errorf("IsURLValid(%q) = %v, want %v", got, valid, tt.wantValid)
			}
		})
	}
}
