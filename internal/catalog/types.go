// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"encoding/json"
	"time"

	"github.com/ManuGH/tvd/internal/dvb"
)

type (
	SourceID      int
	TransponderID int
	ChannelID     int
)

// TransponderState tracks a carrier through scanning and tuning.
type TransponderState string

const (
	TransponderNew            TransponderState = "new"
	TransponderScanning       TransponderState = "scanning"
	TransponderScanned        TransponderState = "scanned"
	TransponderScanningFailed TransponderState = "scanning_failed"
	TransponderTuning         TransponderState = "tuning"
	TransponderTuned          TransponderState = "tuned"
	TransponderTuningFailed   TransponderState = "tuning_failed"
	TransponderDuplicate      TransponderState = "duplicate"
	TransponderIdle           TransponderState = "idle"
)

type ServiceType string

const (
	ServiceTV      ServiceType = "tv"
	ServiceHDTV    ServiceType = "hdtv"
	ServiceRadio   ServiceType = "radio"
	ServiceUnknown ServiceType = "unknown"
)

// StreamType is the media kind of an elementary stream.
type StreamType string

const (
	StreamVideoMPEG StreamType = "video/mpeg2"
	StreamVideoH264 StreamType = "video/h264"
	StreamAudioMPEG StreamType = "audio/mpeg"
	StreamAudioADTS StreamType = "audio/aac"
	StreamAudioLATM StreamType = "audio/latm"
	StreamAudioAC3  StreamType = "audio/ac3"
)

func (t StreamType) IsVideo() bool {
	return t == StreamVideoMPEG || t == StreamVideoH264
}

func (t StreamType) IsAudio() bool {
	switch t {
	case StreamAudioMPEG, StreamAudioADTS, StreamAudioLATM, StreamAudioAC3:
		return true
	}
	return false
}

// DisplayName is the short label shown to users.
func (t StreamType) DisplayName() string {
	switch t {
	case StreamVideoMPEG:
		return "Video"
	case StreamVideoH264:
		return "Video MPEG4"
	case StreamAudioMPEG:
		return "Audio"
	case StreamAudioAC3:
		return "Audio AC3"
	case StreamAudioADTS, StreamAudioLATM:
		return "Audio AAC"
	}
	return "Unknown"
}

// Source groups the transponders reachable through one kind of input,
// e.g. one satellite position.
type Source struct {
	ID     SourceID   `json:"id"`
	Name   string     `json:"name"`
	Family dvb.Family `json:"family"`
}

// Transponder is a carrier and the services discovered on it.
type Transponder struct {
	ID          TransponderID       `json:"id"`
	Source      SourceID            `json:"source"`
	Params      Params              `json:"-"`
	TSID        uint16              `json:"tsid"`
	HasTSID     bool                `json:"has_tsid"`
	ONID        uint16              `json:"onid,omitempty"`
	NetworkName string              `json:"network_name,omitempty"`
	State       TransponderState    `json:"state"`
	Signal      uint16              `json:"signal"`
	SNR         uint16              `json:"snr"`
	BER         uint32              `json:"ber"`
	Services    map[uint16]*Service `json:"services"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type transponderJSON Transponder

// MarshalJSON embeds Params with its family discriminator.
func (t Transponder) MarshalJSON() ([]byte, error) {
	var params json.RawMessage
	if t.Params != nil {
		b, err := MarshalParams(t.Params)
		if err != nil {
			return nil, err
		}
		params = b
	}
	return json.Marshal(struct {
		transponderJSON
		Params json.RawMessage `json:"params,omitempty"`
	}{transponderJSON(t), params})
}

func (t *Transponder) UnmarshalJSON(b []byte) error {
	var aux struct {
		transponderJSON
		Params json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*t = Transponder(aux.transponderJSON)
	if len(aux.Params) > 0 {
		p, err := UnmarshalParams(aux.Params)
		if err != nil {
			return err
		}
		t.Params = p
	}
	return nil
}

// Service is one program of a transponder.
type Service struct {
	ID        uint16             `json:"id"`
	PMTPID    uint16             `json:"pmt_pid"`
	Type      ServiceType        `json:"type"`
	Name      string             `json:"name"`
	Provider  string             `json:"provider,omitempty"`
	Scrambled bool               `json:"scrambled"`
	Channel   ChannelID          `json:"channel,omitempty"`
	Streams   map[uint16]*Stream `json:"streams"`
	CA        []CA               `json:"ca,omitempty"`
}

// Stream is one elementary stream of a service.
type Stream struct {
	PID  uint16     `json:"pid"`
	Type StreamType `json:"type"`
}

// CA binds a CA system id to the PID carrying its ECMs.
type CA struct {
	SystemID uint16 `json:"system_id"`
	ECMPID   uint16 `json:"ecm_pid"`
}

// ServiceKey addresses a service across the catalog.
type ServiceKey struct {
	Transponder TransponderID `json:"transponder"`
	Service     uint16        `json:"service"`
}

// Channel is a user facing grouping of equivalent services, tried in order.
type Channel struct {
	ID       ChannelID    `json:"id"`
	Name     string       `json:"name"`
	Number   int          `json:"number"`
	Services []ServiceKey `json:"services"`
}

type RecordingState string

const (
	RecordingScheduled RecordingState = "scheduled"
	RecordingRunning   RecordingState = "running"
	RecordingDone      RecordingState = "done"
	RecordingFailed    RecordingState = "failed"
)

// Recording is a scheduled capture of a channel.
type Recording struct {
	ID       string         `json:"id"`
	Channel  ChannelID      `json:"channel"`
	Name     string         `json:"name"`
	EventID  int            `json:"event_id,omitempty"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Filename string         `json:"filename,omitempty"`
	State    RecordingState `json:"state"`
}

// AudioVideo returns the service's audio and video streams ordered by PID.
func (s *Service) AudioVideo() []Stream {
	var out []Stream
	for _, st := range s.Streams {
		if st.Type.IsAudio() || st.Type.IsVideo() {
			out = append(out, *st)
		}
	}
	sortStreams(out)
	return out
}

func (s *Service) clone() *Service {
	c := *s
	c.Streams = make(map[uint16]*Stream, len(s.Streams))
	for pid, st := range s.Streams {
		v := *st
		c.Streams[pid] = &v
	}
	c.CA = append([]CA(nil), s.CA...)
	return &c
}

func (t *Transponder) clone() Transponder {
	c := *t
	c.Services = make(map[uint16]*Service, len(t.Services))
	for id, s := range t.Services {
		c.Services[id] = s.clone()
	}
	return c
}
