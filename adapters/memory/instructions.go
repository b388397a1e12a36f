package memory

import (
	"context"
	"strings"

	"github.com/satriahrh/concierge-voice/domain/repositories"
)

// StaticInstructions returns a fixed system instruction per profile. The
// placeholder {device_id} is replaced with the calling device.
type StaticInstructions map[string]string

var _ repositories.InstructionProvider = StaticInstructions{}

func (s StaticInstructions) Instruction(ctx context.Context, profile, deviceID string) (string, error) {
	instruction := s[profile]
	return strings.ReplaceAll(instruction, "{device_id}", deviceID), nil
}
