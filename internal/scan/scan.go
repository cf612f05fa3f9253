// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scan reads the service information tables of a tuned transponder
// and folds them into the catalog.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tvd/internal/activity"
	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/metrics"
	"github.com/ManuGH/tvd/internal/psi"
	"github.com/ManuGH/tvd/internal/telemetry"
)

var ErrDuplicate = errors.New("scan: transport stream already known on another transponder")

const DefaultSectionTimeout = 5 * time.Second

// Config tunes the engine.
type Config struct {
	SectionTimeout time.Duration
	// AutoChannels creates a channel for every TV and radio service found.
	AutoChannels bool
	SkipNIT      bool
	SkipCAT      bool
}

// Result summarises one scan.
type Result struct {
	TSID            uint16       `json:"tsid"`
	Services        int          `json:"services"`
	Streams         int          `json:"streams"`
	NewTransponders int          `json:"new_transponders"`
	EMMs            []catalog.CA `json:"emms,omitempty"`
}

// Engine scans transponders. It implements activity.Performer so a scan can
// run as an activity.
type Engine struct {
	cat    *catalog.Catalog
	cfg    Config
	logger zerolog.Logger
}

func New(cat *catalog.Catalog, cfg Config) *Engine {
	if cfg.SectionTimeout <= 0 {
		cfg.SectionTimeout = DefaultSectionTimeout
	}
	return &Engine{cat: cat, cfg: cfg, logger: xglog.WithComponent("scan")}
}

func (e *Engine) Kind() activity.Kind { return activity.KindScan }

func (e *Engine) Perform(ctx context.Context, run *activity.Run) error {
	_, err := e.Scan(ctx, run.Lease, run.Transponder)
	return err
}

// Scan reads the tables of transponder tid through demux, which must be
// tuned to it.
func (e *Engine) Scan(ctx context.Context, demux dvb.Opener, tid catalog.TransponderID) (Result, error) {
	var res Result
	tp, ok := e.cat.Transponder(tid)
	if !ok {
		return res, fmt.Errorf("%w: transponder %d", catalog.ErrNotFound, tid)
	}
	logger := e.logger.With().Int(xglog.FieldTransponder, int(tid)).Str("carrier", tp.Params.String()).Logger()
	s := &scanner{e: e, demux: demux, tid: tid, family: tp.Params.System().Family(), source: tp.Source, logger: logger}

	_ = e.cat.SetState(tid, catalog.TransponderScanning)
	logger.Info().Str(xglog.FieldEvent, "scan.start").Msg("scanning transponder")

	// PAT: failure here fails the scan
	pat, err := s.readPAT(ctx)
	if err != nil {
		_ = e.cat.SetState(tid, catalog.TransponderScanningFailed)
		e.persist(ctx, tid)
		metrics.IncScan(string(catalog.TransponderScanningFailed))
		logger.Error().Err(err).Str(xglog.FieldEvent, "scan.failed").Msg("cannot read PAT")
		return res, fmt.Errorf("scan transponder %d: %w", tid, err)
	}
	res.TSID = pat.TSID
	if owner, err := e.cat.ClaimTSID(tid, pat.TSID); err != nil {
		if !errors.Is(err, catalog.ErrDuplicateTransponder) {
			return res, err
		}
		_ = e.cat.SetState(tid, catalog.TransponderDuplicate)
		e.persist(ctx, tid)
		metrics.IncScan(string(catalog.TransponderDuplicate))
		logger.Warn().
			Str(xglog.FieldEvent, "scan.duplicate").
			Uint16(xglog.FieldTSID, pat.TSID).
			Int("existing", int(owner)).
			Msg("transport stream already known")
		return res, fmt.Errorf("%w: tsid %d on transponder %d", ErrDuplicate, pat.TSID, owner)
	}

	var services []uint16
	if s.family == dvb.FamilyATSC {
		services = s.readVCT(ctx, tp.Params)
	} else {
		services = s.readSDT(ctx, pat.TSID)
	}
	res.Services = len(services)
	e.persist(ctx, tid)

	res.Streams = s.readPMTs(ctx, pat, services)
	e.persist(ctx, tid)

	if !e.cfg.SkipNIT && ctx.Err() == nil && s.family != dvb.FamilyATSC {
		res.NewTransponders = s.readNIT(ctx, pat.NITPID)
	}
	if !e.cfg.SkipCAT && ctx.Err() == nil {
		res.EMMs = s.readCAT(ctx)
	}

	if err := ctx.Err(); err != nil {
		e.persist(ctx, tid)
		return res, err
	}

	if e.cfg.AutoChannels {
		e.autoChannels(ctx, tid, services)
	}

	_ = e.cat.SetState(tid, catalog.TransponderScanned)
	e.persist(ctx, tid)
	metrics.IncScan(string(catalog.TransponderScanned))
	logger.Info().
		Str(xglog.FieldEvent, "scan.done").
		Uint16(xglog.FieldTSID, pat.TSID).
		Int("services", res.Services).
		Int("streams", res.Streams).
		Int("new_transponders", res.NewTransponders).
		Msg("scan finished")
	return res, nil
}

func (e *Engine) persist(ctx context.Context, tid catalog.TransponderID) {
	if err := e.cat.Persist(context.WithoutCancel(ctx), tid); err != nil {
		e.logger.Warn().Err(err).Str(xglog.FieldEvent, "scan.persist_failed").Int(xglog.FieldTransponder, int(tid)).Msg("cannot persist transponder")
	}
}

func (e *Engine) autoChannels(ctx context.Context, tid catalog.TransponderID, services []uint16) {
	for _, sid := range services {
		key := catalog.ServiceKey{Transponder: tid, Service: sid}
		svc, ok := e.cat.Service(key)
		if !ok || svc.Name == "" || svc.Type == catalog.ServiceUnknown {
			continue
		}
		if _, _, err := e.cat.EnsureChannel(ctx, svc.Name, key); err != nil {
			e.logger.Warn().Err(err).Str(xglog.FieldEvent, "scan.channel_failed").Str(xglog.FieldChannel, svc.Name).Msg("cannot create channel")
		}
	}
}

// scanner holds the state of one scan.
type scanner struct {
	e      *Engine
	demux  dvb.Opener
	tid    catalog.TransponderID
	source catalog.SourceID
	family dvb.Family
	logger zerolog.Logger
}

// readTable reads one complete table from pid within the section timeout.
func (s *scanner) readTable(ctx context.Context, name string, pid uint16, tableID byte, ext int) (tbl psi.Table, err error) {
	ctx, span := telemetry.Start(ctx, "tvd/scan", "scan."+name, telemetry.TableAttributes(int(s.tid), name)...)
	defer func() { telemetry.End(span, err) }()

	flt, err := s.demux.OpenFilter(pid)
	if err != nil {
		metrics.IncTableRead(name, "error")
		return psi.Table{}, err
	}
	tbl, err = psi.ReadTable(ctx, flt, tableID, ext, s.e.cfg.SectionTimeout)
	switch {
	case err == nil:
		metrics.IncTableRead(name, "ok")
	case errors.Is(err, psi.ErrTimeout):
		metrics.IncTableRead(name, "timeout")
	default:
		metrics.IncTableRead(name, "error")
	}
	return tbl, err
}

func (s *scanner) readPAT(ctx context.Context) (psi.PAT, error) {
	tbl, err := s.readTable(ctx, "pat", psi.PIDPAT, psi.TablePAT, -1)
	if err != nil {
		return psi.PAT{}, err
	}
	var pat psi.PAT
	for i, sec := range tbl.Sections {
		p, err := psi.ParsePAT(sec)
		if err != nil {
			return psi.PAT{}, err
		}
		if i == 0 {
			pat = p
			continue
		}
		pat.Programs = append(pat.Programs, p.Programs...)
		if p.NITPID != 0 {
			pat.NITPID = p.NITPID
		}
	}
	s.logger.Info().Str(xglog.FieldEvent, "scan.pat").Uint16(xglog.FieldTSID, pat.TSID).Int("programs", len(pat.Programs)).Msg("read PAT")
	return pat, nil
}

func (s *scanner) skip(name string, err error) {
	ev := s.logger.Info()
	if !errors.Is(err, psi.ErrTimeout) && !errors.Is(err, context.Canceled) {
		ev = s.logger.Warn()
	}
	ev.Err(err).Str(xglog.FieldEvent, "scan.table_skipped").Str(xglog.FieldTable, name).Msg("table not available")
}

// readSDT upserts the services of the actual SDT and returns their ids.
func (s *scanner) readSDT(ctx context.Context, tsid uint16) []uint16 {
	tbl, err := s.readTable(ctx, "sdt", psi.PIDSDT, psi.TableSDTActual, int(tsid))
	if err != nil {
		s.skip("sdt", err)
		return nil
	}
	var ids []uint16
	for _, sec := range tbl.Sections {
		sdt, err := psi.ParseSDT(sec)
		if err != nil {
			s.skip("sdt", err)
			continue
		}
		_ = s.e.cat.SetNetwork(s.tid, sdt.ONID, "")
		for _, svc := range sdt.Services {
			info, ok := svc.Info()
			if !ok {
				s.logger.Warn().Str(xglog.FieldEvent, "scan.no_service_descriptor").Uint16(xglog.FieldServiceID, svc.ServiceID).Msg("service without service descriptor")
				continue
			}
			typ, ok, silent := sdtServiceType(info.Type)
			if !ok {
				if !silent {
					s.logger.Warn().
						Str(xglog.FieldEvent, "scan.unknown_service_type").
						Uint16(xglog.FieldServiceID, svc.ServiceID).
						Str("name", info.Name).
						Uint8("service_type", info.Type).
						Msg("skipping service of unknown type")
				}
				continue
			}
			if s.upsertService(svc.ServiceID, typ, info.Name, info.Provider, svc.FreeCAMode) {
				ids = append(ids, svc.ServiceID)
			}
		}
	}
	return ids
}

// readVCT upserts the virtual channels of an ATSC transport.
func (s *scanner) readVCT(ctx context.Context, p catalog.Params) []uint16 {
	tableID := psi.TableTVCT
	if a, ok := p.(catalog.ATSCParams); ok && strings.HasPrefix(strings.ToUpper(a.Modulation), "QAM") {
		tableID = psi.TableCVCT
	}
	tbl, err := s.readTable(ctx, "vct", psi.PIDVCT, tableID, -1)
	if err != nil {
		s.skip("vct", err)
		return nil
	}
	var ids []uint16
	for _, sec := range tbl.Sections {
		vct, err := psi.ParseVCT(sec)
		if err != nil {
			s.skip("vct", err)
			continue
		}
		for _, ch := range vct.Channels {
			typ, ok := vctServiceType(ch.ServiceType)
			if !ok {
				s.logger.Warn().
					Str(xglog.FieldEvent, "scan.unknown_service_type").
					Uint16(xglog.FieldServiceID, ch.ProgramNumber).
					Str("name", ch.ShortName).
					Uint8("service_type", ch.ServiceType).
					Msg("skipping virtual channel of unknown type")
				continue
			}
			if s.upsertService(ch.ProgramNumber, typ, ch.ShortName, "", ch.AccessControlled) {
				ids = append(ids, ch.ProgramNumber)
			}
		}
	}
	return ids
}

func (s *scanner) upsertService(id uint16, typ catalog.ServiceType, name, provider string, scrambled bool) bool {
	created, err := s.e.cat.UpsertService(s.tid, id, func(svc *catalog.Service) {
		svc.Type = typ
		svc.Name = name
		svc.Provider = provider
		if scrambled {
			svc.Scrambled = true
		}
	})
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "scan.upsert_failed").Uint16(xglog.FieldServiceID, id).Msg("cannot upsert service")
		return false
	}
	metrics.IncServiceUpsert(string(typ))
	s.logger.Info().
		Str(xglog.FieldEvent, "scan.service").
		Uint16(xglog.FieldServiceID, id).
		Str("name", name).
		Str("type", string(typ)).
		Bool("scrambled", scrambled).
		Bool("created", created).
		Msg("service")
	return true
}

// readPMTs reads the PMT of every listed service and returns the number of
// streams recorded.
func (s *scanner) readPMTs(ctx context.Context, pat psi.PAT, services []uint16) int {
	wanted := make(map[uint16]bool, len(services))
	for _, id := range services {
		wanted[id] = true
	}
	streams := 0
	for _, prog := range pat.Programs {
		if ctx.Err() != nil {
			break
		}
		if !wanted[prog.Number] {
			continue
		}
		_, _ = s.e.cat.UpsertService(s.tid, prog.Number, func(svc *catalog.Service) {
			if svc.PMTPID != 0 && svc.PMTPID != prog.PMTPID {
				s.logger.Warn().
					Str(xglog.FieldEvent, "scan.pmt_pid_changed").
					Uint16(xglog.FieldServiceID, prog.Number).
					Uint16("old_pid", svc.PMTPID).
					Uint16("new_pid", prog.PMTPID).
					Msg("service moved its PMT")
			}
			svc.PMTPID = prog.PMTPID
		})

		tbl, err := s.readTable(ctx, "pmt", prog.PMTPID, psi.TablePMT, int(prog.Number))
		if err != nil {
			s.logger.Warn().Err(err).Str(xglog.FieldEvent, "scan.no_pmt").Uint16(xglog.FieldPID, prog.PMTPID).Uint16(xglog.FieldServiceID, prog.Number).Msg("no PMT")
			continue
		}
		for _, sec := range tbl.Sections {
			pmt, err := psi.ParsePMT(sec)
			if err != nil {
				s.skip("pmt", err)
				continue
			}
			streams += s.applyPMT(prog.Number, pmt)
		}
	}
	return streams
}

func (s *scanner) applyPMT(sid uint16, pmt psi.PMT) int {
	n := 0
	for _, es := range pmt.Streams {
		typ, ok := StreamType(es)
		if !ok {
			s.logger.Warn().
				Str(xglog.FieldEvent, "scan.unknown_stream_type").
				Uint16(xglog.FieldServiceID, sid).
				Uint16(xglog.FieldPID, es.PID).
				Uint8("stream_type", es.Type).
				Msg("ignoring stream")
			continue
		}
		if _, err := s.e.cat.UpsertStream(s.tid, sid, es.PID, typ); err != nil {
			continue
		}
		n++
	}
	for _, ca := range pmt.CA() {
		_ = s.e.cat.AddServiceCA(s.tid, sid, catalog.CA{SystemID: ca.SystemID, ECMPID: ca.PID})
	}
	return n
}

// readNIT turns same-family delivery descriptors into new transponders of
// the source. It returns how many were created.
func (s *scanner) readNIT(ctx context.Context, pid uint16) int {
	if pid == 0 {
		pid = psi.PIDNIT
	}
	tbl, err := s.readTable(ctx, "nit", pid, psi.TableNITActual, -1)
	if err != nil {
		s.skip("nit", err)
		return 0
	}
	created := 0
	for _, sec := range tbl.Sections {
		nit, err := psi.ParseNIT(sec)
		if err != nil {
			s.skip("nit", err)
			continue
		}
		if nit.Name != "" {
			tp, _ := s.e.cat.Transponder(s.tid)
			_ = s.e.cat.SetNetwork(s.tid, tp.ONID, nit.Name)
		}
		for _, ts := range nit.Transports {
			for _, d := range ts.Descriptors {
				p, ok := s.deliveryParams(d)
				if !ok {
					continue
				}
				id, err := s.e.cat.CreateTransponder(ctx, s.source, p)
				switch {
				case err == nil:
					created++
					metrics.IncTransponderDiscovered()
					s.logger.Info().
						Str(xglog.FieldEvent, "scan.nit_transponder").
						Int("new_transponder", int(id)).
						Str("carrier", p.String()).
						Msg("new transponder from NIT")
				case errors.Is(err, catalog.ErrDuplicateTransponder):
				default:
					s.logger.Warn().Err(err).Str(xglog.FieldEvent, "scan.nit_transponder_failed").Msg("cannot add transponder")
				}
			}
		}
	}
	return created
}

func (s *scanner) deliveryParams(d psi.Descriptor) (catalog.Params, bool) {
	switch {
	case d.Tag == psi.TagSatelliteDelivery && s.family == dvb.FamilySatellite:
		sd, err := psi.ParseSatelliteDelivery(d)
		if err != nil {
			return nil, false
		}
		sys := dvb.SysDVBS
		if sd.S2 {
			sys = dvb.SysDVBS2
		}
		return catalog.DVBSParams{
			Sys:          sys,
			FrequencyKHz: sd.Frequency,
			Polarization: dvb.Polarization(sd.Polarization),
			SymbolRate:   sd.SymbolRate,
			FEC:          sd.FEC,
			Modulation:   sd.Modulation,
			Rolloff:      sd.Rolloff,
		}, true
	case d.Tag == psi.TagCableDelivery && s.family == dvb.FamilyCable:
		cd, err := psi.ParseCableDelivery(d)
		if err != nil {
			return nil, false
		}
		return catalog.DVBCParams{FrequencyHz: cd.Frequency, SymbolRate: cd.SymbolRate, Modulation: cd.Modulation, FEC: cd.FEC}, true
	case d.Tag == psi.TagTerrestrialDelivery && s.family == dvb.FamilyTerrestrial:
		td, err := psi.ParseTerrestrialDelivery(d)
		if err != nil {
			return nil, false
		}
		return catalog.DVBTParams{
			FrequencyHz:   td.Frequency,
			Bandwidth:     td.Bandwidth,
			Constellation: td.Constellation,
			CodeRateHP:    td.CodeRateHP,
			CodeRateLP:    td.CodeRateLP,
			Guard:         td.Guard,
			TxMode:        td.TxMode,
			Hierarchy:     td.Hierarchy,
		}, true
	}
	return nil, false
}

// readCAT returns the transport-wide CA (EMM) bindings.
func (s *scanner) readCAT(ctx context.Context) []catalog.CA {
	tbl, err := s.readTable(ctx, "cat", psi.PIDCAT, psi.TableCAT, -1)
	if err != nil {
		s.skip("cat", err)
		return nil
	}
	var out []catalog.CA
	for _, sec := range tbl.Sections {
		cas, err := psi.ParseCAT(sec)
		if err != nil {
			s.skip("cat", err)
			continue
		}
		for _, ca := range cas {
			out = append(out, catalog.CA{SystemID: ca.SystemID, ECMPID: ca.PID})
		}
	}
	s.logger.Info().Str(xglog.FieldEvent, "scan.cat").Int("ca_systems", len(out)).Msg("read CAT")
	return out
}
