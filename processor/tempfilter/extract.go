package tempfilter

import (
	stderrors "errors"

	"github.com/c360/edgefilter/errors"
	"github.com/c360/edgefilter/message"
)

// Parse failure reasons used as metric labels
const (
	reasonMalformed = "malformed"
	reasonAbsent    = "absent"
	reasonNotNumber = "not_number"
)

// ExtractFloat parses payload as a JSON object and reads the number at the
// dot-separated path
func ExtractFloat(payload []byte, path string) (float64, error) {
	doc, err := message.ParseDocument(payload)
	if err != nil {
		return 0, err
	}
	return message.LookupFloat(doc, path)
}

// Extractor reads one numeric field from event payloads
type Extractor struct {
	Path string
}

// Extract reports the value at e.Path. When ok is false the event carries
// no usable value and err says why; the error is diagnostic only.
func (e Extractor) Extract(payload []byte) (value float64, ok bool, err error) {
	value, err = ExtractFloat(payload, e.Path)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// parseFailureReason maps an extraction error to a metric label
func parseFailureReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrFieldAbsent):
		return reasonAbsent
	case stderrors.Is(err, errors.ErrNotANumber):
		return reasonNotNumber
	default:
		return reasonMalformed
	}
}
