package ffmpeg

import (
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
	DefaultSpeed      = "medium"
)

// Preset is an effective set of compression flags. Blank bitrates are omitted
// from the command line; a nil CRF is omitted. CRF is not range checked, the
// encoder rejects values it does not accept.
type Preset struct {
	VideoCodec   string
	AudioCodec   string
	VideoBitrate string
	AudioBitrate string
	CRF          *int
	Speed        string // value of -preset
	ExtraArgs    []string
}

// DefaultPreset is libx264/aac, crf 23, medium, 128k audio.
func DefaultPreset() Preset {
	crf := 23
	return Preset{
		VideoCodec:   DefaultVideoCodec,
		AudioCodec:   DefaultAudioCodec,
		AudioBitrate: "128k",
		CRF:          &crf,
		Speed:        DefaultSpeed,
		ExtraArgs:    []string{},
	}
}

// normalize fills blank codecs and speed with their defaults and detaches
// the preset from any caller-owned memory.
func (p Preset) normalize() Preset {
	if strings.TrimSpace(p.VideoCodec) == "" {
		p.VideoCodec = DefaultVideoCodec
	}
	if strings.TrimSpace(p.AudioCodec) == "" {
		p.AudioCodec = DefaultAudioCodec
	}
	if strings.TrimSpace(p.Speed) == "" {
		p.Speed = DefaultSpeed
	}
	if p.CRF != nil {
		crf := *p.CRF
		p.CRF = &crf
	}
	p.ExtraArgs = append([]string{}, p.ExtraArgs...)
	return p
}

// Args renders the preset in a fixed order. Some encoders scope options by
// position, so the order must not change.
func (p Preset) Args() []string {
	p = p.normalize()
	args := []string{"-c:v", p.VideoCodec}
	if strings.TrimSpace(p.VideoBitrate) != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if strings.TrimSpace(p.Speed) != "" {
		args = append(args, "-preset", p.Speed)
	}
	if p.CRF != nil {
		args = append(args, "-crf", strconv.Itoa(*p.CRF))
	}
	args = append(args, "-c:a", p.AudioCodec)
	if strings.TrimSpace(p.AudioBitrate) != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	return append(args, p.ExtraArgs...)
}

// WithOverrides returns a copy of p where every field present in o replaces
// the corresponding field of p. ExtraArgs is replaced, never merged.
func (p Preset) WithOverrides(o *Overrides) Preset {
	if o == nil {
		return p.normalize()
	}
	if o.VideoCodec != nil {
		p.VideoCodec = *o.VideoCodec
	}
	if o.AudioCodec != nil {
		p.AudioCodec = *o.AudioCodec
	}
	if o.VideoBitrate != nil {
		p.VideoBitrate = *o.VideoBitrate
	}
	if o.AudioBitrate != nil {
		p.AudioBitrate = *o.AudioBitrate
	}
	if o.CRF != nil {
		p.CRF = o.CRF
	}
	if o.Speed != nil {
		p.Speed = *o.Speed
	}
	if o.ExtraArgs != nil {
		p.ExtraArgs = o.ExtraArgs
	}
	return p.normalize()
}

// Overrides is a sparse patch over a Preset. A nil field is absent. A non-nil
// ExtraArgs, even an empty one, replaces the base arguments.
type Overrides struct {
	VideoCodec   *string
	AudioCodec   *string
	VideoBitrate *string
	AudioBitrate *string
	CRF          *int
	Speed        *string
	ExtraArgs    []string
}

// Layer returns a new set of overrides where fields present in top win over o.
// Either side may be nil.
func (o *Overrides) Layer(top *Overrides) *Overrides {
	var out Overrides
	if o != nil {
		out = *o
	}
	if top == nil {
		return &out
	}
	if top.VideoCodec != nil {
		out.VideoCodec = top.VideoCodec
	}
	if top.AudioCodec != nil {
		out.AudioCodec = top.AudioCodec
	}
	if top.VideoBitrate != nil {
		out.VideoBitrate = top.VideoBitrate
	}
	if top.AudioBitrate != nil {
		out.AudioBitrate = top.AudioBitrate
	}
	if top.CRF != nil {
		out.CRF = top.CRF
	}
	if top.Speed != nil {
		out.Speed = top.Speed
	}
	if top.ExtraArgs != nil {
		out.ExtraArgs = slices.Clone(top.ExtraArgs)
	}
	return &out
}

// Override keys accepted by OverridesFromMap.
const (
	KeyVideoCodec   = "videoCodec"
	KeyAudioCodec   = "audioCodec"
	KeyVideoBitrate = "videoBitrate"
	KeyAudioBitrate = "audioBitrate"
	KeyCRF          = "crf"
	KeyPreset       = "preset"
	KeyExtraArgs    = "extraArgs"
)

// OverridesFromMap builds overrides from their flat string representation.
// extraArgs is comma separated; blank entries are dropped.
func OverridesFromMap(values map[string]string) (*Overrides, error) {
	if values == nil {
		return nil, nil
	}
	o := &Overrides{}
	for key, value := range values {
		v := value
		switch key {
		case KeyVideoCodec:
			o.VideoCodec = &v
		case KeyAudioCodec:
			o.AudioCodec = &v
		case KeyVideoBitrate:
			o.VideoBitrate = &v
		case KeyAudioBitrate:
			o.AudioBitrate = &v
		case KeyPreset:
			o.Speed = &v
		case KeyCRF:
			crf, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, invalidf("crf must be an integer, got %q", v)
			}
			o.CRF = &crf
		case KeyExtraArgs:
			o.ExtraArgs = []string{}
			for _, arg := range strings.Split(v, ",") {
				if arg = strings.TrimSpace(arg); arg != "" {
					o.ExtraArgs = append(o.ExtraArgs, arg)
				}
			}
		default:
			return nil, invalidf("unknown override %q", key)
		}
	}
	return o, nil
}

// PresetResolver resolves overrides against a fixed base preset.
type PresetResolver struct {
	base Preset
}

func NewPresetResolver(base Preset) *PresetResolver {
	return &PresetResolver{base: base.normalize()}
}

// Resolve is pure; a nil overrides returns the base preset.
func (r *PresetResolver) Resolve(o *Overrides) Preset {
	return r.base.WithOverrides(o)
}

func (r *PresetResolver) Base() Preset {
	return r.base.normalize()
}
