// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pump

import (
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/psi"
)

const defaultPMTPID = 0x1000

// ServiceTables returns the PAT, PMT and SDT packets describing exactly svc.
// They precede the elementary streams of a recording or live stream.
func ServiceTables(svc catalog.Service, tsid, onid uint16) []byte {
	pmtPID := svc.PMTPID
	if pmtPID == 0 {
		pmtPID = defaultPMTPID
	}
	streams := svc.AudioVideo()

	pmt := psi.PMT{ProgramNumber: svc.ID, PCRPID: psi.PIDNull}
	for _, st := range streams {
		if pmt.PCRPID == psi.PIDNull && st.Type.IsVideo() {
			pmt.PCRPID = st.PID
		}
		typ, desc := esType(st.Type)
		pmt.Streams = append(pmt.Streams, psi.ElementaryStream{Type: typ, PID: st.PID, Descriptors: desc})
	}
	if pmt.PCRPID == psi.PIDNull && len(streams) > 0 {
		pmt.PCRPID = streams[0].PID
	}

	sdt := psi.SDT{TSID: tsid, ONID: onid, Services: []psi.SDTService{{
		ServiceID: svc.ID,
		Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{
			Type:     serviceTypeCode(svc.Type),
			Provider: svc.Provider,
			Name:     svc.Name,
		})},
	}}}

	var out []byte
	out = append(out, psi.NewPacketizer(psi.PIDPAT).Packetize(psi.BuildPAT(tsid, 0, []psi.Program{{Number: svc.ID, PMTPID: pmtPID}}))...)
	out = append(out, psi.NewPacketizer(pmtPID).Packetize(psi.BuildPMT(pmt))...)
	out = append(out, psi.NewPacketizer(psi.PIDSDT).Packetize(psi.BuildSDT(sdt))...)
	return out
}

func esType(t catalog.StreamType) (byte, []psi.Descriptor) {
	switch t {
	case catalog.StreamVideoMPEG:
		return psi.StreamMPEG2Video, nil
	case catalog.StreamVideoH264:
		return psi.StreamH264, nil
	case catalog.StreamAudioMPEG:
		return psi.StreamMPEG2Audio, nil
	case catalog.StreamAudioADTS:
		return psi.StreamADTS, nil
	case catalog.StreamAudioLATM:
		return psi.StreamLATM, nil
	case catalog.StreamAudioAC3:
		return psi.StreamPrivatePES, []psi.Descriptor{{Tag: psi.TagAC3, Data: []byte{0x00}}}
	}
	return psi.StreamPrivatePES, nil
}

func serviceTypeCode(t catalog.ServiceType) byte {
	switch t {
	case catalog.ServiceHDTV:
		return 0x19
	case catalog.ServiceRadio:
		return 0x02
	}
	return 0x01
}
