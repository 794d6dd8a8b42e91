package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Workers  int           `validate:"gte=1"`
	Interval time.Duration `validate:"gt=0"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(sample{Workers: 2, Interval: time.Millisecond}))

	err := Struct(sample{Workers: 0, Interval: time.Millisecond})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sample", verr.Struct)
	assert.Equal(t, "Workers", verr.Field)
	assert.Equal(t, "gte", verr.Tag)

	err = Struct(sample{Workers: 1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Interval", verr.Field)
}
