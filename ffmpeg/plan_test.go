package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanArgsAreCopies(t *testing.T) {
	p := filterPlan{args: []string{"ffmpeg", "-i", "a.mp4"}}
	args := p.Args("")
	args[0] = "rm"
	assert.Equal(t, "ffmpeg", p.Args("")[0])

	c := concatPlan{prefix: []string{"ffmpeg", "-i"}, script: "file 'a'\n", suffix: []string{"out.mp4"}}
	assert.Equal(t, []string{"ffmpeg", "-i", "/tmp/s.txt", "out.mp4"}, c.Args("/tmp/s.txt"))
	assert.Equal(t, []string{"ffmpeg", "-i", "/tmp/t.txt", "out.mp4"}, c.Args("/tmp/t.txt"))
}

func TestDescribe(t *testing.T) {
	seg, err := NewSegment("my clip.mp4")
	require.NoError(t, err)

	plan, err := NewBuilder("ffmpeg", nil).Build([]Segment{seg}, "out.mp4", nil, StrategyConcatScript)
	require.NoError(t, err)
	assert.Equal(t,
		"ffmpeg -y -hide_banner -safe 0 -f concat -i '${CONCAT_SCRIPT}' -c:v libx264 -preset medium -crf 23 -c:a aac -b:a 128k out.mp4",
		Describe(plan))

	plan, err = NewBuilder("ffmpeg", nil).Build([]Segment{seg}, "it's.mp4", nil, StrategyFilterComplex)
	require.NoError(t, err)
	line := Describe(plan)
	assert.Contains(t, line, "-i 'my clip.mp4'")
	assert.Contains(t, line, "-map '[vout]'")
	assert.Contains(t, line, `'it'\''s.mp4'`)

	// The rendered line splits back into the same arguments.
	args, err := SplitArgs(line)
	require.NoError(t, err)
	assert.Equal(t, plan.Args(ScriptPlaceholder), args)
}
