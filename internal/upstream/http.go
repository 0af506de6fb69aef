package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// APIError is a non-2xx answer from an upstream. Message is the
// upstream's own text, passed through unchanged.
type APIError struct {
	Source  string
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// flexFloat accepts both JSON numbers and numeric strings, which the ad
// platform uses for money and counts.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", b)
	}
	*f = flexFloat(v)
	return nil
}

func decode(source string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", source, err)
	}
	return nil
}
