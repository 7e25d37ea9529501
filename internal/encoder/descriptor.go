package encoder

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// CodecH264 is the only wire codec produced by the backends.
const CodecH264 = "H264"

// ClockRate is the RTP media clock for video.
const ClockRate = 90000

// ProfileLevelID is constrained baseline, level 5.1. Every backend is
// configured to stay within it so output is interchangeable.
const ProfileLevelID = "42e033"

// CodecDescriptor carries what the transport and the remote side need to know
// about the encoded stream.
type CodecDescriptor struct {
	Codec             string `json:"codec"`
	MimeType          string `json:"mime_type"`
	ClockRate         uint32 `json:"clock_rate"`
	ProfileLevelID    string `json:"profile_level_id"`
	PacketizationMode int    `json:"packetization_mode"`

	// InterFrame is true when access units reference earlier ones, so a lost
	// unit needs a keyframe to recover.
	InterFrame bool `json:"inter_frame"`

	SPS []byte `json:"-"`
	PPS []byte `json:"-"`
}

// H264Descriptor returns the descriptor shared by every H.264 backend.
func H264Descriptor() CodecDescriptor {
	return CodecDescriptor{
		Codec:             CodecH264,
		MimeType:          webrtc.MimeTypeH264,
		ClockRate:         ClockRate,
		ProfileLevelID:    ProfileLevelID,
		PacketizationMode: 1,
		InterFrame:        true,
	}
}

// Fmtp returns the SDP format parameters line.
func (d CodecDescriptor) Fmtp() string {
	if d.Codec != CodecH264 {
		return ""
	}
	parts := []string{
		"level-asymmetry-allowed=1",
		fmt.Sprintf("packetization-mode=%d", d.PacketizationMode),
		"profile-level-id=" + d.ProfileLevelID,
	}
	if len(d.SPS) > 0 && len(d.PPS) > 0 {
		parts = append(parts, "sprop-parameter-sets="+
			base64.StdEncoding.EncodeToString(d.SPS)+","+
			base64.StdEncoding.EncodeToString(d.PPS))
	}
	return strings.Join(parts, ";")
}

// Capability converts the descriptor into the form the signaling layer negotiates with.
func (d CodecDescriptor) Capability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    d.MimeType,
		ClockRate:   d.ClockRate,
		SDPFmtpLine: d.Fmtp(),
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
		},
	}
}

// WithParameterSets returns a copy carrying the given SPS and PPS.
func (d CodecDescriptor) WithParameterSets(sps, pps []byte) CodecDescriptor {
	d.SPS = append([]byte(nil), sps...)
	d.PPS = append([]byte(nil), pps...)
	return d
}

// ParseSpropParameterSets extracts SPS and PPS from an fmtp line.
func ParseSpropParameterSets(fmtp string) (sps, pps []byte, ok bool) {
	const key = "sprop-parameter-sets="

	idx := strings.Index(fmtp, key)
	if idx < 0 {
		return nil, nil, false
	}
	value := fmtp[idx+len(key):]
	if semi := strings.IndexByte(value, ';'); semi >= 0 {
		value = value[:semi]
	}
	spsB64, ppsB64, found := strings.Cut(value, ",")
	if !found {
		return nil, nil, false
	}
	var err error
	if sps, err = base64.StdEncoding.DecodeString(spsB64); err != nil {
		return nil, nil, false
	}
	if pps, err = base64.StdEncoding.DecodeString(ppsB64); err != nil {
		return nil, nil, false
	}
	return sps, pps, true
}
