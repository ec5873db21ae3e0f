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

package idgen

import (
	crand "crypto/rand"
	"encoding/base32"
	"strings"
)

// DeliveryID is a short random tag that ties together the log lines and
// spans of one delivery. It is 8 characters and not unique across time.
func DeliveryID() string {
	b := make([]byte, 5)
	_, _ = crand.Read(b)
	return strings.ToLower(base32.StdEncoding.EncodeToString(b))
}
