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

// Package idgen hands out identifiers for backlog jobs and deliveries.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sony/sonyflake"
)

var defaultFlake = mustFlake()

func mustFlake() *FlakeGenerator {
	g, err := newFlakeGenerator()
	if err != nil {
		panic(err)
	}
	return g
}

// FlakeGenerator produces identifiers that sort roughly by creation time,
// so a ledger listed by job id is also listed by age.
type FlakeGenerator struct {
	sf *sonyflake.Sonyflake
}

func newFlakeGenerator() (*FlakeGenerator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{
		StartTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: func() (uint16, error) {
			return machineID(net.InterfaceAddrs, os.Hostname), nil
		},
	})
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &FlakeGenerator{sf: sf}, nil
}

// machineID takes the low 16 bits of a private IPv4 address. Hosts without
// one, such as sandboxed functions, fall back to a hash of the hostname and
// then to a random value.
func machineID(addrs func() ([]net.Addr, error), hostname func() (string, error)) uint16 {
	if as, err := addrs(); err == nil {
		for _, a := range as {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip := ipnet.IP.To4(); ip != nil && ip.IsPrivate() {
				return uint16(ip[2])<<8 + uint16(ip[3])
			}
		}
	}
	if name, err := hostname(); err == nil && name != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(name))
		return uint16(h.Sum32())
	}
	return uint16(rand.UintN(1 << 16))
}

// NextID returns a positive int64. It falls back to a random value if the
// generator's clock has run out.
func (g *FlakeGenerator) NextID() int64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Int64N(1 << 62)
	}
	return int64(v)
}

var flakeEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// NextBase32ID encodes NextID big-endian in lowercase base32hex, which
// keeps the time ordering when compared as strings.
func (g *FlakeGenerator) NextBase32ID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(g.NextID()))
	return strings.ToLower(flakeEncoding.EncodeToString(b[:]))
}

// NextBase32ID draws from the process-wide generator.
func NextBase32ID() string {
	return defaultFlake.NextBase32ID()
}

// NextID draws from the process-wide generator.
func NextID() int64 {
	return defaultFlake.NextID()
}
