// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ManuGH/tvd/internal/dvb"
	xglog "github.com/ManuGH/tvd/internal/log"
)

// ReadScanfile loads a dvbv5 channel file into source sid and returns how many
// transponders were created. Entries that duplicate a known carrier or do not
// belong to the source family are skipped.
func (c *Catalog) ReadScanfile(ctx context.Context, sid SourceID, r io.Reader) (int, error) {
	entries, err := parseScanfile(r)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, e := range entries {
		p, err := e.params()
		if err != nil {
			c.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "catalog.scanfile_entry_skipped").
				Str("entry", e.name).
				Msg("unusable scan file entry")
			continue
		}
		_, err = c.CreateTransponder(ctx, sid, p)
		switch {
		case errors.Is(err, ErrDuplicateTransponder), errors.Is(err, ErrFamilyMismatch):
			c.logger.Debug().Err(err).Str("entry", e.name).Msg("scan file entry skipped")
		case err != nil:
			return added, err
		default:
			added++
		}
	}
	return added, nil
}

type scanEntry struct {
	name string
	kv   map[string]string
}

func parseScanfile(r io.Reader) ([]scanEntry, error) {
	var (
		out []scanEntry
		cur *scanEntry
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			out = append(out, scanEntry{name: s[1 : len(s)-1], kv: make(map[string]string)})
			cur = &out[len(out)-1]
			continue
		}
		k, v, ok := strings.Cut(s, "=")
		if !ok || cur == nil {
			return nil, fmt.Errorf("scan file line %d: expected KEY = VALUE", line)
		}
		cur.kv[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out, sc.Err()
}

func (e scanEntry) uint(key string) (uint32, error) {
	v, ok := e.kv[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return uint32(n), nil
}

func (e scanEntry) params() (Params, error) {
	sys, err := dvb.ParseDeliverySystem(e.kv["DELIVERY_SYSTEM"])
	if err != nil {
		return nil, err
	}
	freq, err := e.uint("FREQUENCY")
	if err != nil {
		return nil, err
	}
	if freq == 0 {
		return nil, errors.New("missing FREQUENCY")
	}
	sr, err := e.uint("SYMBOL_RATE")
	if err != nil {
		return nil, err
	}
	switch sys.Family() {
	case dvb.FamilySatellite:
		pol := dvb.PolHorizontal
		switch strings.ToUpper(e.kv["POLARIZATION"]) {
		case "VERTICAL", "V":
			pol = dvb.PolVertical
		case "LEFT", "L":
			pol = dvb.PolLeft
		case "RIGHT", "R":
			pol = dvb.PolRight
		}
		return DVBSParams{
			Sys: sys, FrequencyKHz: freq, Polarization: pol, SymbolRate: sr,
			FEC: e.kv["INNER_FEC"], Modulation: e.kv["MODULATION"], Rolloff: e.kv["ROLLOFF"],
		}, nil
	case dvb.FamilyCable:
		return DVBCParams{FrequencyHz: freq, SymbolRate: sr, Modulation: e.kv["MODULATION"], FEC: e.kv["INNER_FEC"]}, nil
	case dvb.FamilyTerrestrial:
		bw, err := e.uint("BANDWIDTH_HZ")
		if err != nil {
			return nil, err
		}
		plp, err := e.uint("STREAM_ID")
		if err != nil {
			return nil, err
		}
		return DVBTParams{
			Sys: sys, FrequencyHz: freq, Bandwidth: bw,
			Constellation: e.kv["MODULATION"],
			CodeRateHP:    e.kv["CODE_RATE_HP"],
			CodeRateLP:    e.kv["CODE_RATE_LP"],
			Guard:         e.kv["GUARD_INTERVAL"],
			TxMode:        e.kv["TRANSMISSION_MODE"],
			Hierarchy:     e.kv["HIERARCHY"],
			PLPID:         int(plp),
		}, nil
	case dvb.FamilyATSC:
		return ATSCParams{FrequencyHz: freq, Modulation: e.kv["MODULATION"]}, nil
	}
	return nil, fmt.Errorf("%w: %s", dvb.ErrUnsupportedSystem, sys)
}
