package intent

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Intent
		wantErr bool
	}{
		{"checkin", CheckIn, false},
		{"checkout", CheckOut, false},
		{"", "", true},
		{"check-in", "", true},
		{"CHECKIN", "", true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Parse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVocabularyDiffersPerIntent(t *testing.T) {
	if len(CheckIn.Keywords()) == 0 || len(CheckOut.Keywords()) == 0 {
		t.Fatalf("keyword sets must be non-empty")
	}
	inWords := CheckIn.DirectionWords()
	outWords := CheckOut.DirectionWords()
	seen := map[string]bool{}
	for _, w := range inWords {
		seen[w] = true
	}
	for _, w := range outWords {
		if seen[w] {
			t.Fatalf("direction word %q shared between intents", w)
		}
	}
}
