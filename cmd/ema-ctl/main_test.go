package main

import (
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BluSpring/EmaPNGTuberV4/internal/control"
)

func TestParseBounce(t *testing.T) {
	tests := []struct {
		in      string
		want    *control.Bounce
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "off", want: &control.Bounce{Enabled: false}},
		{in: "OFF", want: &control.Bounce{Enabled: false}},
		{in: "12.5:30", want: &control.Bounce{Enabled: true, MaxVelocity: 12.5, TotalFrames: 30}},
		{in: "12", wantErr: true},
		{in: "fast:30", wantErr: true},
		{in: "12:many", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBounce(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionFlags_Parse(t *testing.T) {
	p, err := ExpressionFlags{Threshold: "-30", Release: "150"}.parse()
	require.NoError(t, err)
	require.NotNil(t, p.threshold)
	assert.Equal(t, -30.0, *p.threshold)
	assert.Nil(t, p.attack)
	require.NotNil(t, p.release)
	assert.Equal(t, 150.0, *p.release)
	assert.Nil(t, p.bounce)

	_, err = ExpressionFlags{Attack: "soon"}.parse()
	assert.ErrorContains(t, err, "--attack")

	assert.Equal(t, 0.0, valueOr(nil))
}

func TestCLI_ParsesCommands(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("ema-ctl"),
		kong.Vars{"version": version, "socket": "/tmp/ema.sock", "http": "127.0.0.1:7788"},
	)
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{"add", "Talk", "--threshold", "0.3", "--bounce", "10:20"})
	require.NoError(t, err)
	assert.Equal(t, "add <name>", ctx.Command())
	assert.Equal(t, "Talk", cli.Add.Name)
	assert.Equal(t, "0.3", cli.Add.Threshold)
	assert.Equal(t, "/tmp/ema.sock", cli.Socket)

	ctx, err = parser.Parse([]string{"rm", "abc"})
	require.NoError(t, err)
	assert.Equal(t, "remove <id>", ctx.Command())
	assert.Equal(t, "abc", cli.Remove.ID)

	_, err = parser.Parse([]string{"move", "abc", "two"})
	assert.Error(t, err)
}

func TestOrDash(t *testing.T) {
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "hw:0", orDash("hw:0"))
}
