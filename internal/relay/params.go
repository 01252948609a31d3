package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Wire shapes for the opaque parameter blobs. These define the relay's
// signaling dialect; the core never sees past json.RawMessage. Decoding here
// is the schema validation the boundary promises.

type iceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

type iceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type dtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type dtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []dtlsFingerprint `json:"fingerprints"`
}

type rtpCodec struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
}

type rtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type rtpParameters struct {
	MID       string        `json:"mid,omitempty"`
	Codecs    []rtpCodec    `json:"codecs"`
	Encodings []rtpEncoding `json:"encodings"`
}

type capabilityCodec struct {
	MimeType             string `json:"mimeType"`
	Kind                 string `json:"kind,omitempty"`
	ClockRate            uint32 `json:"clockRate"`
	Channels             uint16 `json:"channels,omitempty"`
	PreferredPayloadType uint8  `json:"preferredPayloadType,omitempty"`
}

type routerCapabilities struct {
	Codecs []capabilityCodec `json:"codecs"`
}

// ---------------------------------------------------------------------------
// Encoding (server → wire)
// ---------------------------------------------------------------------------

func encodeICEParameters(p webrtc.ICEParameters) (json.RawMessage, error) {
	return json.Marshal(iceParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
	})
}

func encodeICECandidates(cs []webrtc.ICECandidate) (json.RawMessage, error) {
	out := make([]iceCandidate, 0, len(cs))
	for _, c := range cs {
		out = append(out, iceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
	}
	return json.Marshal(out)
}

func encodeDTLSParameters(p webrtc.DTLSParameters) (json.RawMessage, error) {
	fps := make([]dtlsFingerprint, 0, len(p.Fingerprints))
	for _, fp := range p.Fingerprints {
		fps = append(fps, dtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return json.Marshal(dtlsParameters{
		Role:         p.Role.String(),
		Fingerprints: fps,
	})
}

// ---------------------------------------------------------------------------
// Decoding (wire → server)
// ---------------------------------------------------------------------------

func decodeICEParameters(raw json.RawMessage) (webrtc.ICEParameters, error) {
	var p iceParameters
	if err := json.Unmarshal(raw, &p); err != nil {
		return webrtc.ICEParameters{}, fmt.Errorf("malformed iceParameters: %w", err)
	}
	if p.UsernameFragment == "" || p.Password == "" {
		return webrtc.ICEParameters{}, fmt.Errorf("iceParameters missing credentials")
	}
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
	}, nil
}

func decodeICECandidates(raw json.RawMessage) ([]webrtc.ICECandidate, error) {
	var cs []iceCandidate
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("malformed iceCandidates: %w", err)
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("iceCandidates is empty")
	}

	out := make([]webrtc.ICECandidate, 0, len(cs))
	for i, c := range cs {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: unknown protocol %q", i, c.Protocol)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: unknown type %q", i, c.Type)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Address,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
		})
	}
	return out, nil
}

func decodeDTLSParameters(raw json.RawMessage) (webrtc.DTLSParameters, error) {
	var p dtlsParameters
	if err := json.Unmarshal(raw, &p); err != nil {
		return webrtc.DTLSParameters{}, fmt.Errorf("malformed dtlsParameters: %w", err)
	}
	if len(p.Fingerprints) == 0 {
		return webrtc.DTLSParameters{}, fmt.Errorf("dtlsParameters missing fingerprints")
	}

	fps := make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints))
	for _, fp := range p.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return webrtc.DTLSParameters{
		Role:         dtlsRoleFromString(p.Role),
		Fingerprints: fps,
	}, nil
}

func dtlsRoleFromString(s string) webrtc.DTLSRole {
	switch s {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func decodeRTPParameters(raw json.RawMessage) (rtpParameters, error) {
	var p rtpParameters
	if err := json.Unmarshal(raw, &p); err != nil {
		return rtpParameters{}, fmt.Errorf("malformed rtpParameters: %w", err)
	}
	if len(p.Encodings) == 0 || p.Encodings[0].SSRC == 0 {
		return rtpParameters{}, fmt.Errorf("rtpParameters missing encoding ssrc")
	}
	if len(p.Codecs) == 0 {
		return rtpParameters{}, fmt.Errorf("rtpParameters missing codecs")
	}
	if !strings.EqualFold(p.Codecs[0].MimeType, opusCapability.MimeType) {
		return rtpParameters{}, fmt.Errorf("unsupported codec %q: %w", p.Codecs[0].MimeType, ErrIncompatible)
	}
	return p, nil
}

// capsCompatible reports whether the peer's receive capabilities include the
// one codec the relay forwards.
func capsCompatible(raw json.RawMessage) error {
	var caps routerCapabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return fmt.Errorf("malformed rtpCapabilities: %w", err)
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, opusCapability.MimeType) && c.ClockRate == opusCapability.ClockRate {
			return nil
		}
	}
	return ErrIncompatible
}
