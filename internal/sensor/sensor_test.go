package sensor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileTemperatureParsesMillidegrees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp1_input")
	if err := os.WriteFile(path, []byte("45231\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f := FileTemperature{Path: path}
	got, err := f.Temperature()
	if err != nil {
		t.Fatalf("temperature: %v", err)
	}
	const want = 45.231
	if diff := got - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFileTemperatureMissingFileErrors(t *testing.T) {
	f := FileTemperature{Path: filepath.Join(t.TempDir(), "missing")}
	if _, err := f.Temperature(); err == nil {
		t.Fatal("expected an error for a missing sensor file")
	}
}
