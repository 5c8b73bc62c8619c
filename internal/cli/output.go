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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeremyhahn/go-smartcard/pkg/piv"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintReaderList prints a list of attached readers
func (p *Printer) PrintReaderList(readers []string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"readers": readers,
		})
	case OutputFormatTable:
		if len(readers) == 0 {
			fmt.Fprintln(p.writer, "No readers found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-60s\n", "READER")
		fmt.Fprintln(p.writer, strings.Repeat("-", 60))
		for _, r := range readers {
			fmt.Fprintf(p.writer, "%-60s\n", r)
		}
		return nil
	case OutputFormatText:
		if len(readers) == 0 {
			fmt.Fprintln(p.writer, "No readers found")
			return nil
		}
		fmt.Fprintln(p.writer, "Readers:")
		for _, r := range readers {
			fmt.Fprintf(p.writer, "  - %s\n", r)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintStatus prints the card status summary
func (p *Printer) PrintStatus(status *StatusInfo) error {
	switch p.format {
	case OutputFormatJSON:
		info := map[string]interface{}{
			"reader":        status.Reader,
			"version":       status.Version,
			"pin_retries":   status.Retries,
			"pin_only_mode": status.PINOnlyMode,
		}
		if status.Serial != "" {
			info["serial"] = status.Serial
		}
		if len(status.Credentials) > 0 {
			creds := make([]map[string]interface{}, len(status.Credentials))
			for i, c := range status.Credentials {
				cred := map[string]interface{}{
					"name":    c.Name,
					"default": c.Default,
				}
				if c.Algorithm != "" {
					cred["algorithm"] = c.Algorithm
				}
				if c.HasRetries {
					cred["retries"] = c.Retries
					cred["retries_remaining"] = c.RetriesRemaining
				}
				creds[i] = cred
			}
			info["credentials"] = creds
		}
		return p.printJSON(info)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, "Card Status:")
		fmt.Fprintf(p.writer, "  Reader:        %s\n", status.Reader)
		fmt.Fprintf(p.writer, "  PIV Version:   %s\n", status.Version)
		if status.Serial != "" {
			fmt.Fprintf(p.writer, "  Serial:        %s\n", status.Serial)
		}
		fmt.Fprintf(p.writer, "  PIN Retries:   %d\n", status.Retries)
		fmt.Fprintf(p.writer, "  PIN-Only Mode: %s\n", status.PINOnlyMode)
		if len(status.Credentials) > 0 {
			fmt.Fprintln(p.writer, "  Credentials:")
			for _, c := range status.Credentials {
				fmt.Fprintf(p.writer, "    %-15s", c.Name)
				if c.Algorithm != "" {
					fmt.Fprintf(p.writer, " algorithm=%s", c.Algorithm)
				}
				fmt.Fprintf(p.writer, " default=%t", c.Default)
				if c.HasRetries {
					fmt.Fprintf(p.writer, " retries=%d/%d", c.RetriesRemaining, c.Retries)
				}
				fmt.Fprintln(p.writer)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintObject prints a decoded data object
func (p *Printer) PrintObject(obj piv.DataObject) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(objectJSON(obj))
	case OutputFormatTable, OutputFormatText:
		if obj.IsEmpty() {
			fmt.Fprintf(p.writer, "Object %06X is empty\n", uint32(obj.ID()))
			return nil
		}
		switch o := obj.(type) {
		case *piv.CardholderID:
			fmt.Fprintln(p.writer, "Cardholder Unique ID:")
			fmt.Fprintf(p.writer, "  FASC-N:     %s\n", hex.EncodeToString(o.FASCN))
			fmt.Fprintf(p.writer, "  GUID:       %s\n", o.GUID.String())
			fmt.Fprintf(p.writer, "  Expiration: %s\n", o.Expiration)
		case *piv.Capability:
			fmt.Fprintln(p.writer, "Card Capability Container:")
			fmt.Fprintf(p.writer, "  Card ID: %s\n", hex.EncodeToString(o.CardID))
		case *piv.AdminData:
			fmt.Fprintln(p.writer, "Admin Data:")
			fmt.Fprintf(p.writer, "  PUK Blocked:   %t\n", o.PUKBlocked)
			fmt.Fprintf(p.writer, "  Key Protected: %t\n", o.KeyProtected)
			if len(o.Salt) > 0 {
				fmt.Fprintf(p.writer, "  Salt:          %d bytes\n", len(o.Salt))
			}
			if !o.Updated.IsZero() {
				fmt.Fprintf(p.writer, "  Updated:       %s\n", o.Updated.Format("2006-01-02 15:04:05 MST"))
			}
		case *piv.KeyHistory:
			fmt.Fprintln(p.writer, "Key History:")
			fmt.Fprintf(p.writer, "  On-Card Certs:  %d\n", o.OnCardCerts)
			fmt.Fprintf(p.writer, "  Off-Card Certs: %d\n", o.OffCardCerts)
			if o.OffCardURL != "" {
				fmt.Fprintf(p.writer, "  Off-Card URL:   %s\n", o.OffCardURL)
			}
		case *piv.PINProtectedData:
			// The key itself is never printed. Use the hex dump for
			// raw access.
			fmt.Fprintln(p.writer, "PIN-Protected Data:")
			fmt.Fprintf(p.writer, "  Management Key: %d bytes\n", len(o.ManagementKey))
		default:
			fmt.Fprintf(p.writer, "Object %06X\n", uint32(obj.ID()))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// objectJSON builds the JSON view of a data object
func objectJSON(obj piv.DataObject) map[string]interface{} {
	info := map[string]interface{}{
		"id":    fmt.Sprintf("%06X", uint32(obj.ID())),
		"empty": obj.IsEmpty(),
	}
	if obj.IsEmpty() {
		return info
	}
	switch o := obj.(type) {
	case *piv.CardholderID:
		info["fascn"] = hex.EncodeToString(o.FASCN)
		info["guid"] = o.GUID.String()
		info["expiration"] = o.Expiration
	case *piv.Capability:
		info["card_id"] = hex.EncodeToString(o.CardID)
	case *piv.AdminData:
		info["puk_blocked"] = o.PUKBlocked
		info["key_protected"] = o.KeyProtected
		info["salt_length"] = len(o.Salt)
		if !o.Updated.IsZero() {
			info["updated"] = o.Updated.String()
		}
	case *piv.KeyHistory:
		info["on_card_certs"] = o.OnCardCerts
		info["off_card_certs"] = o.OffCardCerts
		if o.OffCardURL != "" {
			info["off_card_url"] = o.OffCardURL
		}
	case *piv.PINProtectedData:
		info["management_key_length"] = len(o.ManagementKey)
	}
	return info
}

// PrintHex prints raw object bytes as hex
func (p *Printer) PrintHex(data []byte) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"data":   hex.EncodeToString(data),
			"length": len(data),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprint(p.writer, hex.Dump(data))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintGeneratedKey prints a newly generated management key. This is
// the only time the key is shown; it cannot be read back from the
// card.
func (p *Printer) PrintGeneratedKey(keyHex, algorithm string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"management_key": keyHex,
			"algorithm":      algorithm,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, "Generated management key (store it now, it is not shown again):")
		fmt.Fprintf(p.writer, "  Key:       %s\n", keyHex)
		fmt.Fprintf(p.writer, "  Algorithm: %s\n", algorithm)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPINOnlyMode prints the active PIN-only mode
func (p *Printer) PrintPINOnlyMode(mode string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"pin_only_mode": mode,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "PIN-only mode: %s\n", mode)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
