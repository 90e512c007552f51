package device

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxIDLength   = 64
	maxNameLength = 100

	// Device IDs appear as a literal MQTT topic segment, so the allowed
	// alphabet excludes topic separators and wildcards.
	idPattern = `^[a-zA-Z0-9](?:[a-zA-Z0-9._-]*[a-zA-Z0-9])?$`

	minCanvasDim = 1
	maxCanvasDim = 1024
)

var idRegex = regexp.MustCompile(idPattern)

// Pre-computed validation set for O(1) status lookups.
var validStatuses map[Status]struct{}

func init() {
	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}
}

// GenerateID creates a new unique device identifier.
func GenerateID() string {
	return "dev-" + uuid.NewString()
}

// ValidateID checks that a device ID is non-empty, within length limits and
// safe to embed in a topic path.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q contains characters outside [a-zA-Z0-9._-]", ErrInvalidID, id)
	}
	return nil
}

// ValidateStatus checks that a status value is one of the known states.
func ValidateStatus(s Status) error {
	if _, ok := validStatuses[s]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

// ValidateRecord performs comprehensive validation on a device record.
// Returns an error describing the first validation failure found.
func ValidateRecord(r *Record) error {
	if r == nil {
		return ErrInvalidDevice
	}

	if err := ValidateID(r.ID); err != nil {
		return err
	}

	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}

	if r.DriverKind == "" {
		return fmt.Errorf("%w: driver kind is required", ErrInvalidDevice)
	}

	if r.Width < minCanvasDim || r.Width > maxCanvasDim ||
		r.Height < minCanvasDim || r.Height > maxCanvasDim {
		return fmt.Errorf("%w: %dx%d outside %d-%d", ErrInvalidCanvas, r.Width, r.Height, minCanvasDim, maxCanvasDim)
	}

	if r.Brightness < 0 || r.Brightness > 100 {
		return fmt.Errorf("%w: brightness %d outside 0-100", ErrInvalidDevice, r.Brightness)
	}

	if r.Status != "" {
		if err := ValidateStatus(r.Status); err != nil {
			return err
		}
	}

	return nil
}
