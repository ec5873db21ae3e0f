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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/rawetl/cmd"
)

const defaultMemLimitRatio = 0.8

func stderrf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

func init() {
	time.Local = time.UTC
	setMaxProcs()
	setMemLimit()
	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(50)
		_ = os.Setenv("GOGC", "50")
	}
}

func setMaxProcs() {
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(stderrf))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(stderrf))
	}
	if err != nil {
		stderrf("failed to set GOMAXPROCS: %v", err)
	}
}

// setMemLimit leaves headroom below the container limit for the external
// tools (ffmpeg, LibreOffice) the workers spawn. RAWETL_MEMLIMIT_RATIO
// overrides the share given to the Go heap.
func setMemLimit() {
	ratio := defaultMemLimitRatio
	if v := os.Getenv("RAWETL_MEMLIMIT_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 && r <= 1 {
			ratio = r
		} else {
			stderrf("ignoring RAWETL_MEMLIMIT_RATIO=%q", v)
		}
	}
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(ratio),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		stderrf("failed to set memory limit: %v", err)
	}
}

func main() {
	// Tool outputs (page text, converted PDFs, frames) all land under one
	// per-process scratch root.
	tmp := filepath.Join(os.TempDir(), "rawetl")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		slog.Error("Failed to create temp dir", slog.String("path", tmp), slog.Any("error", err))
	} else if err := os.Setenv("TMPDIR", tmp); err != nil {
		slog.Error("Failed to set TMPDIR", slog.String("path", tmp), slog.Any("error", err))
	}

	cmd.Execute()
}
