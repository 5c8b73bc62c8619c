// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-smartcard.
//
// go-smartcard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"testing"

	"github.com/jeremyhahn/go-smartcard/pkg/piv"
)

func TestParseObjectName(t *testing.T) {
	tests := []struct {
		name string
		want piv.ObjectID
	}{
		{"chuid", piv.ObjectCardholderID},
		{"CHUID", piv.ObjectCardholderID},
		{"capability", piv.ObjectCapability},
		{"ccc", piv.ObjectCapability},
		{"admin", piv.ObjectAdminData},
		{"key-history", piv.ObjectKeyHistory},
		{"pin-protected", piv.ObjectPINProtected},
	}

	for _, tt := range tests {
		got, err := parseObjectName(tt.name)
		if err != nil {
			t.Errorf("parseObjectName(%q) returned error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseObjectName(%q) = %06X, want %06X", tt.name, uint32(got), uint32(tt.want))
		}
	}
}

func TestParseObjectName_Unknown(t *testing.T) {
	for _, name := range []string{"", "certificate", "keyhistory", "5FC102"} {
		if _, err := parseObjectName(name); err == nil {
			t.Errorf("parseObjectName(%q) should fail", name)
		}
	}
}
