// Package manifest loads mount instructions from manifest files. A
// locator is a path to a JSON file holding one MountInstruction; the
// control plane's cmd file accepts locators so callers can keep their
// mount definitions on disk instead of inlining JSON.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerfs/containerfs/pkg/errors"
	"github.com/containerfs/containerfs/pkg/types"
)

// MaxManifestSize bounds manifest files; anything larger is rejected
// as malformed rather than read into memory.
const MaxManifestSize = 1 << 20

// Load reads and validates a mount instruction from a manifest file.
func Load(locator string) (*types.MountInstruction, error) {
	if locator == "" {
		return nil, errors.InvalidConfig("empty manifest locator")
	}

	info, err := os.Stat(locator)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(locator)
		}
		return nil, errors.BackendIO(locator, err)
	}
	if info.Size() > MaxManifestSize {
		return nil, errors.InvalidConfig(fmt.Sprintf("manifest %s exceeds %d bytes", locator, MaxManifestSize))
	}

	data, err := os.ReadFile(locator)
	if err != nil {
		return nil, errors.BackendIO(locator, err)
	}
	return Parse(data)
}

// Parse decodes and validates a JSON mount instruction.
func Parse(data []byte) (*types.MountInstruction, error) {
	var instruction types.MountInstruction
	if err := json.Unmarshal(data, &instruction); err != nil {
		return nil, errors.InvalidConfig("malformed mount instruction: " + err.Error())
	}
	if err := Validate(&instruction); err != nil {
		return nil, err
	}
	return &instruction, nil
}

// Validate checks the fields every mount instruction must carry.
func Validate(instruction *types.MountInstruction) error {
	if _, err := types.ParseContainerID(instruction.UUID); err != nil {
		return errors.InvalidConfig(err.Error())
	}
	if len(instruction.Paths) == 0 {
		return errors.InvalidConfig("mount instruction has no claim paths")
	}
	if instruction.Backend.Type == "" {
		return errors.InvalidConfig("mount instruction has no backend type")
	}
	return nil
}

// Write serializes a mount instruction to a manifest file, creating
// parent directories as needed.
func Write(locator string, instruction *types.MountInstruction) error {
	if err := Validate(instruction); err != nil {
		return err
	}
	data, err := json.MarshalIndent(instruction, "", "  ")
	if err != nil {
		return errors.BackendIO(locator, err)
	}
	if err := os.MkdirAll(filepath.Dir(locator), 0o755); err != nil {
		return errors.BackendIO(locator, err)
	}
	if err := os.WriteFile(locator, data, 0o644); err != nil {
		return errors.BackendIO(locator, err)
	}
	return nil
}
