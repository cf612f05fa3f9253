// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scan

import (
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/psi"
)

// DVB service_type codes from the service descriptor.
const (
	dvbServiceTV      = 0x01
	dvbServiceRadio   = 0x02
	dvbServiceData    = 0x0C
	dvbServiceAVCSDTV = 0x16
	dvbServiceAVCHDTV = 0x19
)

// sdtServiceType maps a DVB service type. ok is false for codes that are
// skipped; data services are skipped silently.
func sdtServiceType(code byte) (typ catalog.ServiceType, ok, silent bool) {
	switch code {
	case dvbServiceTV, dvbServiceAVCSDTV:
		return catalog.ServiceTV, true, false
	case dvbServiceRadio:
		return catalog.ServiceRadio, true, false
	case dvbServiceAVCHDTV:
		return catalog.ServiceHDTV, true, false
	case dvbServiceData:
		return catalog.ServiceUnknown, false, true
	}
	return catalog.ServiceUnknown, false, false
}

// vctServiceType maps an ATSC service_type.
func vctServiceType(code byte) (catalog.ServiceType, bool) {
	switch code {
	case psi.ATSCServiceDigital, psi.ATSCServiceAnalog:
		return catalog.ServiceTV, true
	case psi.ATSCServiceAudio:
		return catalog.ServiceRadio, true
	}
	return catalog.ServiceUnknown, false
}

// StreamType classifies a PMT elementary stream. Private data streams are
// AC-3 only when they carry an AC-3 or enhanced AC-3 descriptor.
func StreamType(es psi.ElementaryStream) (catalog.StreamType, bool) {
	switch es.Type {
	case psi.StreamMPEG1Video, psi.StreamMPEG2Video:
		return catalog.StreamVideoMPEG, true
	case psi.StreamH264:
		return catalog.StreamVideoH264, true
	case psi.StreamMPEG1Audio, psi.StreamMPEG2Audio:
		return catalog.StreamAudioMPEG, true
	case psi.StreamADTS:
		return catalog.StreamAudioADTS, true
	case psi.StreamLATM:
		return catalog.StreamAudioLATM, true
	case psi.StreamATSCAC3:
		return catalog.StreamAudioAC3, true
	case psi.StreamPrivateSect, psi.StreamPrivatePES:
		if _, ok := psi.Find(es.Descriptors, psi.TagAC3); ok {
			return catalog.StreamAudioAC3, true
		}
		if _, ok := psi.Find(es.Descriptors, psi.TagEnhancedAC3); ok {
			return catalog.StreamAudioAC3, true
		}
	}
	return "", false
}
