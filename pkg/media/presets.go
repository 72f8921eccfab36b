package media

import (
	"strconv"
	"strings"

	"github.com/pion/webrtc/v3"
)

// CodecType represents the video codec to use
type CodecType string

const (
	CodecVP8  CodecType = "vp8"
	CodecVP9  CodecType = "vp9"
	CodecH264 CodecType = "h264"
)

// CodecInfo describes a codec option and the GStreamer elements producing it
type CodecInfo struct {
	Type        CodecType
	Name        string // Display name
	Description string // Short description
	MimeType    string
	ClockRate   uint32
	FmtpLine    string
	Payloader   string
}

// Codecs lists the supported codecs, default first
var Codecs = []CodecInfo{
	{
		Type:        CodecVP8,
		Name:        "VP8",
		Description: "fast, compatible",
		MimeType:    webrtc.MimeTypeVP8,
		ClockRate:   90000,
		Payloader:   "rtpvp8pay pt=96",
	},
	{
		Type:        CodecVP9,
		Name:        "VP9",
		Description: "better quality",
		MimeType:    webrtc.MimeTypeVP9,
		ClockRate:   90000,
		Payloader:   "rtpvp9pay pt=98",
	},
	{
		Type:        CodecH264,
		Name:        "H.264",
		Description: "software x264",
		MimeType:    webrtc.MimeTypeH264,
		ClockRate:   90000,
		FmtpLine:    "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		Payloader:   "rtph264pay pt=102 config-interval=1",
	},
}

// CodecByType finds a codec by type
func CodecByType(codecType CodecType) *CodecInfo {
	for i := range Codecs {
		if Codecs[i].Type == codecType {
			return &Codecs[i]
		}
	}
	return nil
}

// ParseCodecFlag parses the --codec flag value
func ParseCodecFlag(value string) CodecType {
	switch strings.ToLower(value) {
	case "vp9":
		return CodecVP9
	case "h264", "h.264", "avc":
		return CodecH264
	default:
		return CodecVP8
	}
}

// Encoder returns the encoder element for the codec at bitrate kbps and fps
func (c CodecInfo) Encoder(bitrate, fps int) string {
	switch c.Type {
	case CodecVP9:
		return "vp9enc deadline=1 cpu-used=8 row-mt=true end-usage=cbr target-bitrate=" +
			strconv.Itoa(bitrate*1000) + " keyframe-max-dist=" + strconv.Itoa(fps*2)
	case CodecH264:
		return "x264enc tune=zerolatency speed-preset=ultrafast bitrate=" + strconv.Itoa(bitrate) +
			" key-int-max=" + strconv.Itoa(fps*2) + " ! video/x-h264,profile=constrained-baseline ! h264parse config-interval=1"
	default:
		return "vp8enc deadline=1 cpu-used=8 end-usage=cbr target-bitrate=" +
			strconv.Itoa(bitrate*1000) + " keyframe-max-dist=" + strconv.Itoa(fps*2)
	}
}

// QualityPreset defines a video quality preset
type QualityPreset struct {
	Name        string
	Bitrate     int    // in kbps
	Description string // short description for UI
}

// Quality presets from lowest to highest
var QualityPresets = []QualityPreset{
	{Name: "Low", Bitrate: 500, Description: "500 kbps"},
	{Name: "Medium", Bitrate: 1500, Description: "1.5 Mbps"},
	{Name: "High", Bitrate: 3000, Description: "3 Mbps"},
	{Name: "Ultra", Bitrate: 6000, Description: "6 Mbps"},
	{Name: "Max", Bitrate: 10000, Description: "10 Mbps"},
}

// DefaultQualityIndex returns the index of the default quality preset (High)
func DefaultQualityIndex() int {
	return 2
}

// ParseQualityFlag parses the --quality flag value and returns bitrate in kbps.
// Accepts preset names, their short forms, or a plain number of kbps.
func ParseQualityFlag(value string) int {
	value = strings.ToLower(strings.TrimSpace(value))

	switch value {
	case "lo":
		value = "low"
	case "med":
		value = "medium"
	case "hi":
		value = "high"
	}
	for _, preset := range QualityPresets {
		if strings.ToLower(preset.Name) == value {
			return preset.Bitrate
		}
	}

	if kbps, err := strconv.Atoi(value); err == nil && kbps > 0 {
		return kbps
	}
	return QualityPresets[DefaultQualityIndex()].Bitrate
}

// FPS presets offered by the host UI
var FPSPresets = []int{15, 24, 30, 60}

// DefaultFPS is used when no valid rate is given
const DefaultFPS = 30

// ParseFPSFlag parses the --fps flag value
func ParseFPSFlag(value string) int {
	if fps, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && fps > 0 && fps <= 120 {
		return fps
	}
	return DefaultFPS
}
