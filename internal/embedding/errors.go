package embedding

import "errors"

// ErrNoFeatures is returned when an extractor yields no usable feature rows.
var ErrNoFeatures = errors.New("extractor returned no features")

// EncodingError reports that an image could not be turned into an embedding.
// Op names the failing stage: "fetch", "decode", "load", "extract" or "pool".
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return "embedding " + e.Op + ": " + e.Err.Error()
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}
