package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Source(t *testing.T) {
	t.Run("includes remote address", func(t *testing.T) {
		r := Record{ConnID: 4, Remote: "10.0.0.1:5123"}
		assert.Equal(t, "conn-4 10.0.0.1:5123", r.Source())
	})

	t.Run("omits empty remote", func(t *testing.T) {
		assert.Equal(t, "conn-9", Record{ConnID: 9}.Source())
	})
}
