package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
)

const validUUID = "44444444-4444-4444-8444-444444444444"

func validInstruction() *types.MountInstruction {
	return &types.MountInstruction{
		UUID:  validUUID,
		Paths: []string{"/container1"},
		Backend: types.BackendDescriptor{
			Type:   "static",
			Params: map[string]string{"content.f": "x"},
		},
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	locator := filepath.Join(t.TempDir(), "manifests", "c1.json")

	if err := Write(locator, validInstruction()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded, err := Load(locator)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.UUID != validUUID || len(loaded.Paths) != 1 || loaded.Backend.Type != "static" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Load missing = %v, want NOT_FOUND", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	locator := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(locator, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(locator); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("Load malformed = %v, want INVALID_CONFIG", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.MountInstruction)
	}{
		{"bad uuid", func(m *types.MountInstruction) { m.UUID = "nope" }},
		{"no paths", func(m *types.MountInstruction) { m.Paths = nil }},
		{"no backend type", func(m *types.MountInstruction) { m.Backend.Type = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instruction := validInstruction()
			tt.mutate(instruction)
			if err := Validate(instruction); !errors.IsCode(err, errors.ErrCodeInvalidConfig) {
				t.Errorf("Validate = %v, want INVALID_CONFIG", err)
			}
		})
	}
	if err := Validate(validInstruction()); err != nil {
		t.Errorf("Validate valid = %v", err)
	}
}
