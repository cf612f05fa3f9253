// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/tvd/internal/catalog"
	"github.com/ManuGH/tvd/internal/epg"
	xglog "github.com/ManuGH/tvd/internal/log"
	"github.com/ManuGH/tvd/internal/playlist"
)

// ExportChannels atomically writes channels.json and channels.m3u into dir.
func ExportChannels(ctx context.Context, dir string, c *catalog.Catalog, baseURL string) error {
	channels := c.Channels()
	if err := writeAtomic(ctx, filepath.Join(dir, "channels.json"), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(channels)
	}); err != nil {
		return err
	}
	items := playlist.FromCatalog(c, baseURL)
	return writeAtomic(ctx, filepath.Join(dir, "channels.m3u"), func(w io.Writer) error {
		return playlist.WriteM3U(w, items)
	})
}

// ExportGuide atomically writes the XMLTV guide of every channel into
// dir/guide.xml, leaving out events that ended before from.
func ExportGuide(ctx context.Context, dir string, c *catalog.Catalog, from time.Time) error {
	tv := epg.Generate(c, from)
	return writeAtomic(ctx, filepath.Join(dir, "guide.xml"), func(w io.Writer) error {
		return epg.WriteXMLTV(w, tv)
	})
}

func writeAtomic(ctx context.Context, path string, write func(io.Writer) error) error {
	logger := xglog.FromContext(ctx)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Str(xglog.FieldPath, path).Msg("cleanup pending file")
		}
	}()
	if err := write(pending); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
