// Package fake provides test helpers shared by the packages of the module.
package fake

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// CheckLog returns a logger writing JSON lines to a buffer and a check
// function that fails the test unless every message has been logged.
func CheckLog(msgs ...string) (zerolog.Logger, func(t *testing.T)) {
	buffer := new(bytes.Buffer)

	check := func(t *testing.T) {
		for _, msg := range msgs {
			require.Contains(t, buffer.String(), fmt.Sprintf(`"%s"`, msg))
		}
	}

	return zerolog.New(buffer), check
}
