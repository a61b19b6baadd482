package convert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 1.5, ParseFloat("1.50000000"))
	assert.Equal(t, 0.001, ParseFloat(" 0.001 "))
	assert.Zero(t, ParseFloat(""))
	assert.Zero(t, ParseFloat("abc"))
}

func TestTimes(t *testing.T) {
	assert.True(t, UnixSeconds(0).IsZero())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), UnixSeconds(1700000000))
	assert.Equal(t, 500*time.Millisecond, UnixSeconds(1700000000.5).Sub(time.Unix(1700000000, 0)))
	assert.True(t, UnixMillis(0).IsZero())
	assert.Equal(t, int64(1700000000123), UnixMillis(1700000000123).UnixMilli())
}
