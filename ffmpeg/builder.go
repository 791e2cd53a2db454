package ffmpeg

import (
	"strconv"
	"strings"
)

// Strategy selects how segments are joined.
type Strategy string

const (
	// StrategyConcatScript lists the segments in a concat demuxer script.
	StrategyConcatScript Strategy = "concat"
	// StrategyFilterComplex opens one input per segment and joins them in a filter graph.
	StrategyFilterComplex Strategy = "filter_complex"
)

// ParseStrategy accepts the canonical names plus the upper-case enum spellings.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "concat", "concat_script":
		return StrategyConcatScript, nil
	case "filter_complex", "filter", "filtergraph":
		return StrategyFilterComplex, nil
	}
	return "", invalidf("unknown strategy %q", s)
}

// Builder turns segments into plans. It holds no mutable state and is safe
// for concurrent use.
type Builder struct {
	binary  string
	presets *PresetResolver
}

// NewBuilder returns a builder invoking binary (default "ffmpeg") with presets
// resolved by presets (default DefaultPreset).
func NewBuilder(binary string, presets *PresetResolver) *Builder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if presets == nil {
		presets = NewPresetResolver(DefaultPreset())
	}
	return &Builder{binary: binary, presets: presets}
}

// Presets returns the resolver used for every plan.
func (b *Builder) Presets() *PresetResolver { return b.presets }

// Build plans the encode of segments, in order, into output.
func (b *Builder) Build(segments []Segment, output string, overrides *Overrides, strategy Strategy) (Plan, error) {
	if len(segments) == 0 {
		return nil, invalidf("at least one segment is required")
	}
	if strings.TrimSpace(output) == "" {
		return nil, invalidf("output path is required")
	}
	preset := b.presets.Resolve(overrides)
	switch strategy {
	case StrategyConcatScript:
		return b.concatPlan(segments, output, preset), nil
	case StrategyFilterComplex:
		return b.filterPlan(segments, output, preset), nil
	}
	return nil, invalidf("unknown strategy %q", strategy)
}

func (b *Builder) concatPlan(segments []Segment, output string, preset Preset) Plan {
	prefix := []string{b.binary, "-y", "-hide_banner", "-safe", "0", "-f", "concat", "-i"}
	suffix := append(preset.Args(), output)
	return concatPlan{prefix: prefix, script: concatScript(segments), suffix: suffix}
}

func concatScript(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		sb.WriteString("file '")
		sb.WriteString(escapeConcatPath(seg.Source()))
		sb.WriteString("'\n")
		if start, ok := seg.Start(); ok && start != 0 {
			sb.WriteString("inpoint " + formatSeconds(start) + "\n")
		}
		if end, ok := seg.End(); ok {
			sb.WriteString("outpoint " + formatSeconds(end) + "\n")
		}
	}
	return sb.String()
}

// escapeConcatPath follows the concat demuxer's quoting: the caller wraps the
// result in single quotes, and each embedded quote closes, escapes and reopens.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

func (b *Builder) filterPlan(segments []Segment, output string, preset Preset) Plan {
	args := []string{b.binary, "-y", "-hide_banner"}
	for _, seg := range segments {
		args = append(args, "-i", seg.Source())
	}
	args = append(args,
		"-filter_complex", filterGraph(segments),
		"-map", "[vout]",
		"-map", "[aout]",
	)
	args = append(args, preset.Args()...)
	args = append(args, output)
	return filterPlan{args: args}
}

func filterGraph(segments []Segment) string {
	var sb strings.Builder
	for i, seg := range segments {
		idx := strconv.Itoa(i)
		trim := trimParams(seg)

		sb.WriteString("[" + idx + ":v]")
		if trim != "" {
			sb.WriteString("trim=" + trim + ",")
		}
		sb.WriteString("setpts=PTS-STARTPTS[v" + idx + "];")

		sb.WriteString("[" + idx + ":a]")
		if trim != "" {
			sb.WriteString("atrim=" + trim + ",")
		}
		sb.WriteString("asetpts=PTS-STARTPTS[a" + idx + "];")
	}
	for i := range segments {
		idx := strconv.Itoa(i)
		sb.WriteString("[v" + idx + "][a" + idx + "]")
	}
	sb.WriteString("concat=n=" + strconv.Itoa(len(segments)) + ":v=1:a=1[vout][aout]")
	return sb.String()
}

func trimParams(seg Segment) string {
	var params []string
	if start, ok := seg.Start(); ok && start != 0 {
		params = append(params, "start="+formatSeconds(start))
	}
	if end, ok := seg.End(); ok {
		params = append(params, "end="+formatSeconds(end))
	}
	return strings.Join(params, ":")
}
