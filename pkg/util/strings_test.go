package util

import "testing"

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" aapl", "MSFT", "", "aapl ", "  ", "goog"})
	want := []string{"AAPL", "MSFT", "GOOG"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
