package microphone

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/MrWong99/hornwatch/pkg/audio"
)

// openError classifies a failure to open the input device. Only failures
// that name a permission problem map to [audio.ErrPermissionDenied]; a
// missing or busy device is an [audio.ErrDevice] and may be retried.
func openError(err error) error {
	kind := audio.ErrDevice
	if errors.Is(err, fs.ErrPermission) || mentionsPermission(err.Error()) {
		kind = audio.ErrPermissionDenied
	}
	return fmt.Errorf("microphone: open default input: %w: %w", kind, err)
}

func mentionsPermission(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "not permitted") ||
		strings.Contains(msg, "access denied")
}
