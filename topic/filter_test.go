package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/errors"
)

func TestCompile_Valid(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		wildcard bool
	}{
		{"literal single level", "sensors", false},
		{"literal multi level", "sensors/room1/temperature", false},
		{"single wildcard", "sensors/+/temperature", true},
		{"leading single wildcard", "+/temperature", true},
		{"multi wildcard alone", "#", true},
		{"trailing multi wildcard", "sensors/#", true},
		{"both wildcards", "+/room1/#", true},
		{"empty level", "sensors//temperature", false},
		{"reserved literal", "$SYS/broker/uptime", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f, err := Compile(test.pattern)
			require.NoError(t, err)
			assert.Equal(t, test.pattern, f.Raw())
			assert.Equal(t, test.wildcard, f.HasWildcard())
		})
	}
}

func TestCompile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"empty pattern", ""},
		{"hash not final", "sensors/#/temperature"},
		{"hash mixed with literal", "sensors/a#"},
		{"plus mixed with literal", "sensors/a+/b"},
		{"plus suffix", "sensors+/data"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Compile(test.pattern)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidFilter)
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		topic   string
		want    bool
	}{
		{"exact match", "sensors/room1/temperature", "sensors/room1/temperature", true},
		{"exact mismatch", "sensors/room1/temperature", "sensors/room2/temperature", false},
		{"shorter topic", "sensors/room1/temperature", "sensors/room1", false},
		{"longer topic", "sensors/room1", "sensors/room1/temperature", false},

		{"plus matches one level", "sensors/+/temperature", "sensors/room1/temperature", true},
		{"plus rejects two levels", "sensors/+/temperature", "sensors/a/b/temperature", false},
		{"plus matches empty level", "sensors/+/data", "sensors//data", true},
		{"plus alone", "+", "sensors", true},
		{"plus alone rejects two levels", "+", "sensors/room1", false},

		{"hash matches parent", "sensors/#", "sensors", true},
		{"hash matches one level", "sensors/#", "sensors/room1", true},
		{"hash matches deep", "sensors/#", "sensors/room1/temperature/raw", true},
		{"hash alone matches everything", "#", "a/b/c", true},
		{"hash rejects different prefix", "sensors/#", "actuators/valve1", false},

		{"leading plus rejects reserved", "+/broker/uptime", "$SYS/broker/uptime", false},
		{"hash rejects reserved", "#", "$SYS/broker/uptime", false},
		{"literal matches reserved", "$SYS/broker/uptime", "$SYS/broker/uptime", true},
		{"inner wildcard matches reserved suffix", "events/+/status", "events/$internal/status", true},

		{"empty topic never matches", "#", "", false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := MustCompile(test.pattern)
			assert.Equal(t, test.want, f.Matches(test.topic),
				"filter %q vs topic %q", test.pattern, test.topic)
		})
	}
}

func TestFilter_MatchesDeterministic(t *testing.T) {
	f := MustCompile("sensors/+/temperature")
	for i := 0; i < 100; i++ {
		require.True(t, f.Matches("sensors/room1/temperature"))
		require.False(t, f.Matches("sensors/room1/humidity"))
	}
}

func TestFilter_ZeroValueNeverMatches(t *testing.T) {
	var f Filter
	assert.False(t, f.Matches("sensors/room1"))
}

func TestMustCompile_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustCompile("a/#/b") })
}
