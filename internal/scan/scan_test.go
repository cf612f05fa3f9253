// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scan

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	"github.com/ManuGH/tvd/internal/dvb/dvbtest"
	"github.com/ManuGH/tvd/internal/frontend"
	"github.com/ManuGH/tvd/internal/psi"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTSID = 0x0401

type mux struct {
	tsid     uint16
	sdt      []psi.SDTService
	programs []psi.Program
	pmts     []psi.PMT
	nit      *psi.NIT
	// nitPID is announced as program 0 when set.
	nitPID uint16
	vct    *psi.VCT
	cat    []psi.CA
}

// channel1 is a one-service multiplex: 0x10 "Channel1", H.264 video and AAC audio.
func channel1() mux {
	return mux{
		tsid: testTSID,
		sdt: []psi.SDTService{{
			ServiceID:   0x10,
			Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x01, Provider: "Test", Name: "Channel1"})},
		}},
		programs: []psi.Program{{Number: 0x10, PMTPID: 0x20}},
		pmts: []psi.PMT{{
			ProgramNumber: 0x10,
			PCRPID:        0x21,
			Streams: []psi.ElementaryStream{
				{Type: psi.StreamH264, PID: 0x21},
				{Type: psi.StreamADTS, PID: 0x22},
			},
		}},
	}
}

func (m mux) device() *dvbtest.Device {
	dev := dvbtest.NewDevice()
	programs, nitPID := m.programs, psi.PIDNIT
	if m.nitPID != 0 {
		programs = append([]psi.Program{{Number: 0, PMTPID: m.nitPID}}, programs...)
		nitPID = m.nitPID
	}
	dev.Script(psi.PIDPAT, psi.NewPacketizer(psi.PIDPAT).Packetize(psi.BuildPAT(m.tsid, 0, programs)))
	if m.sdt != nil {
		dev.Script(psi.PIDSDT, psi.NewPacketizer(psi.PIDSDT).Packetize(psi.BuildSDT(psi.SDT{TSID: m.tsid, ONID: 1, Services: m.sdt})))
	}
	for i, pmt := range m.pmts {
		pid := m.programs[i].PMTPID
		dev.Script(pid, psi.NewPacketizer(pid).Packetize(psi.BuildPMT(pmt)))
	}
	if m.nit != nil {
		dev.Script(nitPID, psi.NewPacketizer(nitPID).Packetize(psi.BuildNIT(*m.nit)))
	}
	if m.vct != nil {
		dev.Script(psi.PIDVCT, psi.NewPacketizer(psi.PIDVCT).Packetize(psi.BuildVCT(*m.vct)))
	}
	if m.cat != nil {
		dev.Script(psi.PIDCAT, psi.NewPacketizer(psi.PIDCAT).Packetize(psi.BuildCAT(0, m.cat)))
	}
	return dev
}

func newCable(t *testing.T) (*catalog.Catalog, catalog.SourceID, catalog.TransponderID) {
	t.Helper()
	cat := catalog.New(nil)
	src, err := cat.AddSource(context.Background(), "cable", dvb.FamilyCable)
	require.NoError(t, err)
	tid, err := cat.CreateTransponder(context.Background(), src, catalog.DVBCParams{FrequencyHz: 330000000, SymbolRate: 6900000, Modulation: "QAM/64"})
	require.NoError(t, err)
	return cat, src, tid
}

func fastEngine(cat *catalog.Catalog) *Engine {
	return New(cat, Config{SectionTimeout: 50 * time.Millisecond})
}

func assertFiltersClosed(t *testing.T, dev *dvbtest.Device) {
	t.Helper()
	assert.Empty(t, dev.OpenFilters())
}

func TestEndToEndScan(t *testing.T) {
	cat, _, tid := newCable(t)
	dev := channel1().device()

	res, err := fastEngine(cat).Scan(context.Background(), dev, tid)
	require.NoError(t, err)
	assert.Equal(t, uint16(testTSID), res.TSID)
	assert.Equal(t, 1, res.Services)
	assert.Equal(t, 2, res.Streams)
	assertFiltersClosed(t, dev)

	tp, ok := cat.Transponder(tid)
	require.True(t, ok)
	assert.Equal(t, catalog.TransponderScanned, tp.State)
	assert.Equal(t, uint16(testTSID), tp.TSID)
	require.Len(t, tp.Services, 1)

	want := &catalog.Service{
		ID:       0x10,
		PMTPID:   0x20,
		Type:     catalog.ServiceTV,
		Name:     "Channel1",
		Provider: "Test",
		Streams: map[uint16]*catalog.Stream{
			0x21: {PID: 0x21, Type: catalog.StreamVideoH264},
			0x22: {PID: 0x22, Type: catalog.StreamAudioADTS},
		},
	}
	if diff := cmp.Diff(want, tp.Services[0x10], cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("service mismatch (-want +got):\n%s", diff)
	}
}

func TestScanAsActivity(t *testing.T) {
	cat, src, tid := newCable(t)
	dev := dvbtest.NewDevice()
	m := channel1()
	programs, nitPID := m.programs, psi.PIDNIT
	if m.nitPID != 0 {
		programs = append([]psi.Program{{Number: 0, PMTPID: m.nitPID}}, programs...)
		nitPID = m.nitPID
	}
	dev.Script(psi.PIDPAT, psi.NewPacketizer(psi.PIDPAT).Packetize(psi.BuildPAT(m.tsid, 0, programs)))
	dev.Script(psi.PIDSDT, psi.NewPacketizer(psi.PIDSDT).Packetize(psi.BuildSDT(psi.SDT{TSID: m.tsid, ONID: 1, Services: m.sdt})))
	dev.Script(0x20, psi.NewPacketizer(0x20).Packetize(psi.BuildPMT(m.pmts[0])))

	fe := frontend.New(frontend.ID{}, dvb.FamilyCable, dev, cat, frontend.WithPollInterval(time.Millisecond))
	fe.AddPort(src, nil)
	reg := frontend.NewRegistry()
	require.NoError(t, reg.Add(fe))
	t.Cleanup(func() { _ = reg.Close() })

	eng := New(cat, Config{SectionTimeout: 50 * time.Millisecond, AutoChannels: true})
	a, err := activity.New(activity.Target{Transponder: tid}, eng, activity.Deps{Catalog: cat, Frontends: reg})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))

	assert.Equal(t, activity.StateDone, a.State())
	assert.False(t, fe.Busy())
	tp, _ := cat.Transponder(tid)
	assert.Equal(t, catalog.TransponderScanned, tp.State)
	assertFiltersClosed(t, dev)

	chans := cat.Channels()
	require.Len(t, chans, 1)
	assert.Equal(t, "Channel1", chans[0].Name)
	assert.Equal(t, []catalog.ServiceKey{{Transponder: tid, Service: 0x10}}, chans[0].Services)
}

func TestRescanIsIdempotent(t *testing.T) {
	cat, _, tid := newCable(t)
	eng := fastEngine(cat)
	m := channel1()

	_, err := eng.Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	first, _ := cat.Transponder(tid)

	_, err = eng.Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	second, _ := cat.Transponder(tid)

	if diff := cmp.Diff(first.Services, second.Services); diff != "" {
		t.Errorf("rescan changed services (-first +second):\n%s", diff)
	}

	// audio switches from ADTS to LATM
	m.pmts[0].Streams[1].Type = psi.StreamLATM
	_, err = eng.Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	third, _ := cat.Transponder(tid)
	require.Len(t, third.Services[0x10].Streams, 2)
	assert.Equal(t, catalog.StreamAudioLATM, third.Services[0x10].Streams[0x22].Type)
	assert.Equal(t, catalog.StreamVideoH264, third.Services[0x10].Streams[0x21].Type)
}

func TestDuplicateTransportStream(t *testing.T) {
	cat, src, first := newCable(t)
	eng := fastEngine(cat)
	_, err := eng.Scan(context.Background(), channel1().device(), first)
	require.NoError(t, err)
	before, _ := cat.Transponder(first)

	second, err := cat.CreateTransponder(context.Background(), src, catalog.DVBCParams{FrequencyHz: 338000000, SymbolRate: 6900000, Modulation: "QAM/64"})
	require.NoError(t, err)

	other := channel1()
	other.sdt[0].Descriptors = []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x01, Name: "Imposter"})}
	_, err = eng.Scan(context.Background(), other.device(), second)
	require.ErrorIs(t, err, ErrDuplicate)

	dup, _ := cat.Transponder(second)
	assert.Equal(t, catalog.TransponderDuplicate, dup.State)
	assert.Empty(t, dup.Services)

	after, _ := cat.Transponder(first)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("existing transponder modified (-before +after):\n%s", diff)
	}
}

func TestMissingPATFailsScan(t *testing.T) {
	cat, _, tid := newCable(t)
	dev := dvbtest.NewDevice()

	_, err := fastEngine(cat).Scan(context.Background(), dev, tid)
	require.ErrorIs(t, err, psi.ErrTimeout)
	tp, _ := cat.Transponder(tid)
	assert.Equal(t, catalog.TransponderScanningFailed, tp.State)
	assertFiltersClosed(t, dev)
}

func TestUnknownServiceTypesSkipped(t *testing.T) {
	cat, _, tid := newCable(t)
	m := channel1()
	m.sdt = append(m.sdt,
		psi.SDTService{ServiceID: 0x11, Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x0C, Name: "Data"})}},
		psi.SDTService{ServiceID: 0x12, Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x80, Name: "Odd"})}},
		psi.SDTService{ServiceID: 0x13, Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x19, Name: "HD"})}},
		psi.SDTService{ServiceID: 0x14, Descriptors: []psi.Descriptor{psi.ServiceDescriptor(psi.ServiceInfo{Type: 0x02, Name: "Radio"})}},
	)
	_, err := fastEngine(cat).Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)

	tp, _ := cat.Transponder(tid)
	require.Len(t, tp.Services, 3)
	assert.Equal(t, catalog.ServiceHDTV, tp.Services[0x13].Type)
	assert.Equal(t, catalog.ServiceRadio, tp.Services[0x14].Type)
	assert.NotContains(t, tp.Services, uint16(0x11))
	assert.NotContains(t, tp.Services, uint16(0x12))
}

func TestPMTConditionalAccess(t *testing.T) {
	cat, _, tid := newCable(t)
	m := channel1()
	m.pmts[0].Descriptors = []psi.Descriptor{psi.CADescriptor(psi.CA{SystemID: 0x0B00, PID: 0x1F0})}
	m.cat = []psi.CA{{SystemID: 0x0B00, PID: 0x1F5}}

	res, err := fastEngine(cat).Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	assert.Equal(t, []catalog.CA{{SystemID: 0x0B00, ECMPID: 0x1F5}}, res.EMMs)

	svc, ok := cat.Service(catalog.ServiceKey{Transponder: tid, Service: 0x10})
	require.True(t, ok)
	assert.True(t, svc.Scrambled)
	assert.Equal(t, []catalog.CA{{SystemID: 0x0B00, ECMPID: 0x1F0}}, svc.CA)
}

func TestNITCreatesSiblingTransponders(t *testing.T) {
	cat, src, tid := newCable(t)
	cable := func(freq0, freq1, mod byte) psi.Descriptor {
		return psi.Descriptor{Tag: psi.TagCableDelivery, Data: []byte{
			0x03, freq0, freq1, 0x00,
			0xFF, 0xF2,
			mod,
			0x00, 0x69, 0x00, 0x00,
		}}
	}
	m := channel1()
	m.nit = &psi.NIT{NetworkID: 1, Descriptors: []psi.Descriptor{{Tag: psi.TagNetworkName, Data: []byte("KabelNet")}}, Transports: []psi.TransportStreamInfo{
		{TSID: testTSID, ONID: 1, Descriptors: []psi.Descriptor{cable(0x30, 0x00, 0x03)}}, // ourselves: 330 MHz QAM/64
		{TSID: 0x0402, ONID: 1, Descriptors: []psi.Descriptor{cable(0x46, 0x00, 0x05)}},   // 346 MHz QAM/256
		{TSID: 0x0403, ONID: 1, Descriptors: []psi.Descriptor{{Tag: psi.TagSatelliteDelivery, Data: make([]byte, 11)}}},
	}}
	eng := fastEngine(cat)

	res, err := eng.Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewTransponders)

	tps := cat.Transponders(src)
	require.Len(t, tps, 2)
	var found bool
	for _, tp := range tps {
		if p, ok := tp.Params.(catalog.DVBCParams); ok && p.FrequencyHz == 346000000 {
			found = true
			assert.Equal(t, "QAM/256", p.Modulation)
			assert.Equal(t, uint32(6900000), p.SymbolRate)
			assert.Equal(t, catalog.TransponderNew, tp.State)
		}
	}
	assert.True(t, found)
	self, _ := cat.Transponder(tid)
	assert.Equal(t, "KabelNet", self.NetworkName)

	res, err = eng.Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	assert.Zero(t, res.NewTransponders)
	assert.Len(t, cat.Transponders(src), 2)
}

func TestNITFollowsPATNetworkPID(t *testing.T) {
	cat, src, tid := newCable(t)
	m := channel1()
	m.nitPID = 0x0FFE
	m.nit = &psi.NIT{NetworkID: 1, Transports: []psi.TransportStreamInfo{
		{TSID: 0x0402, ONID: 1, Descriptors: []psi.Descriptor{{Tag: psi.TagCableDelivery, Data: []byte{
			0x03, 0x46, 0x00, 0x00, 0xFF, 0xF2, 0x05, 0x00, 0x69, 0x00, 0x00,
		}}}},
	}}

	res, err := fastEngine(cat).Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewTransponders)
	assert.Len(t, cat.Transponders(src), 2)
	// Program 0 is the network, not a service.
	assert.Equal(t, 1, res.Services)
}

func TestATSCVirtualChannels(t *testing.T) {
	cat := catalog.New(nil)
	src, err := cat.AddSource(context.Background(), "ota", dvb.FamilyATSC)
	require.NoError(t, err)
	tid, err := cat.CreateTransponder(context.Background(), src, catalog.ATSCParams{FrequencyHz: 575000000, Modulation: "8VSB"})
	require.NoError(t, err)

	m := mux{
		tsid:     0x0815,
		programs: []psi.Program{{Number: 3, PMTPID: 0x30}},
		pmts: []psi.PMT{{ProgramNumber: 3, PCRPID: 0x31, Streams: []psi.ElementaryStream{
			{Type: psi.StreamMPEG2Video, PID: 0x31},
			{Type: psi.StreamATSCAC3, PID: 0x34},
		}}},
		vct: &psi.VCT{TSID: 0x0815, Channels: []psi.VirtualChannel{
			{ShortName: "KQED", Major: 9, Minor: 1, TSID: 0x0815, ProgramNumber: 3, ServiceType: psi.ATSCServiceDigital},
			{ShortName: "DATA", Major: 9, Minor: 9, TSID: 0x0815, ProgramNumber: 9, ServiceType: psi.ATSCServiceData},
		}},
	}
	_, err = fastEngine(cat).Scan(context.Background(), m.device(), tid)
	require.NoError(t, err)

	tp, _ := cat.Transponder(tid)
	require.Len(t, tp.Services, 1)
	svc := tp.Services[3]
	assert.Equal(t, "KQED", svc.Name)
	assert.Equal(t, catalog.ServiceTV, svc.Type)
	assert.Equal(t, catalog.StreamAudioAC3, svc.Streams[0x34].Type)
	assert.Equal(t, catalog.StreamVideoMPEG, svc.Streams[0x31].Type)
}

func TestScanCancelled(t *testing.T) {
	cat, _, tid := newCable(t)
	dev := dvbtest.NewDevice()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(cat, Config{SectionTimeout: time.Minute}).Scan(ctx, dev, tid)
	assert.ErrorIs(t, err, context.Canceled)
	assertFiltersClosed(t, dev)
}

func TestStreamTypeTable(t *testing.T) {
	ac3 := []psi.Descriptor{{Tag: psi.TagAC3}}
	eac3 := []psi.Descriptor{{Tag: psi.TagEnhancedAC3}}
	tests := []struct {
		es   psi.ElementaryStream
		want catalog.StreamType
		ok   bool
	}{
		{psi.ElementaryStream{Type: 0x01}, catalog.StreamVideoMPEG, true},
		{psi.ElementaryStream{Type: 0x02}, catalog.StreamVideoMPEG, true},
		{psi.ElementaryStream{Type: 0x1B}, catalog.StreamVideoH264, true},
		{psi.ElementaryStream{Type: 0x03}, catalog.StreamAudioMPEG, true},
		{psi.ElementaryStream{Type: 0x04}, catalog.StreamAudioMPEG, true},
		{psi.ElementaryStream{Type: 0x0F}, catalog.StreamAudioADTS, true},
		{psi.ElementaryStream{Type: 0x11}, catalog.StreamAudioLATM, true},
		{psi.ElementaryStream{Type: 0x81}, catalog.StreamAudioAC3, true},
		{psi.ElementaryStream{Type: 0x06, Descriptors: ac3}, catalog.StreamAudioAC3, true},
		{psi.ElementaryStream{Type: 0x05, Descriptors: eac3}, catalog.StreamAudioAC3, true},
		{psi.ElementaryStream{Type: 0x06}, "", false},
		{psi.ElementaryStream{Type: 0x24}, "", false},
	}
	for _, tt := range tests {
		got, ok := StreamType(tt.es)
		assert.Equal(t, tt.ok, ok, "type 0x%02x", tt.es.Type)
		assert.Equal(t, tt.want, got, "type 0x%02x", tt.es.Type)
	}
}
