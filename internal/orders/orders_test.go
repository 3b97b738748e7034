package orders

import (
	"errors"
	"strings"
	"testing"

	"github.com/nvandessel/pathsim/internal/models"
	"github.com/nvandessel/pathsim/internal/restriction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Spec
	}{
		{"quota only", "5", Spec{Quota: 5}},
		{"all wildcards", "10 * * * *", Spec{Quota: 10}},
		{"pinned guard", "3 alpha * *", Spec{Quota: 3, Guard: "alpha"}},
		{"pinned all", "1 $AAAA bravo charlie", Spec{Quota: 1, Guard: "$AAAA", Middle: "bravo", Exit: "charlie"}},
		{
			"destination and extra",
			"2 * * * 1.2.3.4:443 web  browsing",
			Spec{Quota: 2, Destination: &models.Destination{Host: "1.2.3.4", Port: 443}, Extra: "web browsing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	_, err := ParseLine("   ")
	assert.ErrorIs(t, err, ErrEmptyLine)

	for _, bad := range []string{"many * * *", "0 * * *", "-4", "2.5"} {
		_, err := ParseLine(bad)
		assert.ErrorIs(t, err, ErrInvalidQuota, bad)
	}

	_, err = ParseLine("1 * * * nowhere")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestParseFile_BadLinesDoNotStopOthers(t *testing.T) {
	input := strings.Join([]string{
		"# guard-pinned orders",
		"5 alpha * *",
		"",
		"x * * *",
		"7",
		"3 * * * host",
	}, "\n")

	specs, err := ParseFile(strings.NewReader(input))
	require.Len(t, specs, 2)
	assert.Equal(t, 2, specs[0].Line)
	assert.Equal(t, 5, specs[0].Quota)
	assert.Equal(t, 5, specs[1].Line)
	assert.Equal(t, 7, specs[1].Quota)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)

	var lineErr *LineError
	require.True(t, errors.As(errs[0], &lineErr))
	assert.Equal(t, 4, lineErr.Line)
	assert.ErrorIs(t, errs[0], ErrInvalidQuota)
	assert.ErrorIs(t, errs[1], ErrInvalidDestination)
	assert.Contains(t, errs[1].Error(), "line 6")
}

func TestSpec_Resolve(t *testing.T) {
	relays := []*models.Relay{
		{Nickname: "alpha", Fingerprint: "AAAA", Digest: "da"},
		{Nickname: "bravo", Fingerprint: "BBBB", Digest: "db"},
	}
	res := restriction.NewResolver(relays)

	spec, err := ParseLine("4 alpha * $BBBB 10.0.0.1:80 note")
	require.NoError(t, err)

	order, err := spec.Resolve(9, res)
	require.NoError(t, err)
	assert.Equal(t, 9, order.Index)
	assert.Equal(t, 4, order.Quota)
	assert.Same(t, relays[0], order.Guard)
	assert.Nil(t, order.Middle)
	assert.Same(t, relays[1], order.Exit)
	assert.Equal(t, 80, order.Destination.Port)
	assert.Equal(t, "note", order.Extra)

	_, err = Spec{Quota: 1, Middle: "ghost"}.Resolve(0, res)
	assert.ErrorIs(t, err, ErrUnknownRelay)
	assert.ErrorContains(t, err, "middle")
}
