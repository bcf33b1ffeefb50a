// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"encoding/hex"
)

// String returns the hex representation of the hash.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// FanOut returns the two hex two letters directory names used to spread
// entries over sub directories. It takes the last two bytes of the hash.
func (h Hash) FanOut() (string, string) {
	return b2hex(h[HashSize-1]), b2hex(h[HashSize-2])
}

// b2hex converts a byte into a hex two letters string.
func b2hex(b byte) string { return hex.EncodeToString([]byte{b}) }
