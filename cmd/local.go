// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/rawetl/config"
	"github.com/cardinalhq/rawetl/internal/localbus"
	"github.com/cardinalhq/rawetl/internal/objstore"
	"github.com/cardinalhq/rawetl/internal/officeconv"
	"github.com/cardinalhq/rawetl/internal/pdfprocessing"
	"github.com/cardinalhq/rawetl/internal/pipeline"
	"github.com/cardinalhq/rawetl/internal/toolexec"
	"github.com/cardinalhq/rawetl/internal/videoprocessing"
)

func init() {
	var inputDir, outputDir string
	var poolSize int
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Run the whole pipeline in-process over a directory of files",
		Long: `Upload every file under --input into an in-memory raw area, run the
pipeline until it settles, and copy the output area to --output. Delivery
delays are skipped rather than waited out.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runService("local", func(ctx context.Context) error {
				return runLocal(ctx, inputDir, outputDir, poolSize)
			})
		},
	}
	cmd.Flags().StringVar(&inputDir, "input", "", "directory of raw files")
	cmd.Flags().StringVar(&outputDir, "output", "out", "directory to write output to")
	cmd.Flags().IntVar(&poolSize, "workers", 4, "concurrent handlers")
	_ = cmd.MarkFlagRequired("input")
	rootCmd.AddCommand(cmd)
}

func runLocal(ctx context.Context, inputDir, outputDir string, poolSize int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := toolexec.LookPath(cfg.Tools.PdfInfo, cfg.Tools.PdfToText); err != nil {
		slog.Warn("PDF tools missing, PDFs will fail", slog.Any("error", err))
	}

	lc := localbus.DefaultConfig()
	lc.PDF = cfg.PDF
	lc.Office = cfg.Office
	lc.Video = cfg.Video
	lc.Transcript = cfg.Transcript
	lc.Backlog = cfg.Backlog.Policy
	lc.PoolSize = poolSize
	if lc.Table, err = loadTable(cfg); err != nil {
		return err
	}

	poppler := pdfprocessing.NewPoppler(toolexec.Exec)
	poppler.PdfInfoBinary = cfg.Tools.PdfInfo
	poppler.PdfToTextBinary = cfg.Tools.PdfToText
	office := officeconv.NewLibreOffice(toolexec.Exec)
	office.Binary = cfg.Tools.LibreOffice
	ffmpeg := videoprocessing.NewFFmpeg(toolexec.Exec)
	ffmpeg.Binary = cfg.Tools.FFmpeg

	p, err := localbus.NewPipeline(lc, localbus.Tools{
		PageCounter: poppler,
		Transcriber: poppler,
		Converter:   office,
		Audio:       ffmpeg,
		Frames:      ffmpeg,
	}, localbus.NewClock())
	if err != nil {
		return err
	}
	defer p.Close()

	rawBucket := lc.Areas.MustBucket(pipeline.AreaRaw)
	n := 0
	err = filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		n++
		return objstore.UploadFile(ctx, p.Store, rawBucket, filepath.ToSlash(rel), path)
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", inputDir, err)
	}
	slog.Info("Uploaded input", slog.Int("files", n))

	if err := p.Bus.Drain(ctx); err != nil {
		return err
	}

	outBucket := lc.Areas.MustBucket(pipeline.AreaOutput)
	written := 0
	for _, key := range p.Store.Keys(outBucket) {
		if strings.HasPrefix(key, lc.PDF.ProgressPrefix) {
			continue
		}
		data, err := objstore.ReadAll(ctx, p.Store, outBucket, key)
		if err != nil {
			return err
		}
		dest := filepath.Join(outputDir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
		written++
	}

	slog.Info("Local run finished",
		slog.Int("deliveries", p.Bus.Delivered()),
		slog.Int("outputs", written),
		slog.Int("expiredJobs", len(p.Queue.Expired())))
	return nil
}
