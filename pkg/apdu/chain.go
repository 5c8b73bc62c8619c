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

package apdu

import "fmt"

// Chain splits a command whose data field exceeds maxData into a command
// chain: every fragment but the last carries the chaining class bit and
// no expected-length field, and the last fragment carries the remainder
// plus the original Ne. Commands that already fit are returned unchanged
// as a single-element chain. Fragments are only valid in order; the
// chaining bit tells the card more data follows, so reordering or
// reusing them produces card-side errors.
func Chain(cmd Command, maxData int) ([]Command, error) {
	if maxData <= 0 || maxData > MaxExtendedData {
		return nil, fmt.Errorf("%w: %d", ErrChunkSize, maxData)
	}
	if len(cmd.Data) <= maxData {
		return []Command{cmd}, nil
	}

	var chain []Command
	data := cmd.Data
	for len(data) > maxData {
		chain = append(chain, Command{
			Cla:  cmd.Cla | ClaChain,
			Ins:  cmd.Ins,
			P1:   cmd.P1,
			P2:   cmd.P2,
			Data: data[:maxData],
		})
		data = data[maxData:]
	}
	final := cmd
	final.Data = data
	chain = append(chain, final)
	return chain, nil
}
