package keychain

import (
	"encoding/base64"
	"fmt"
	"time"
)

// brc29Suffixes is the fixed set of payment suffixes combined with each
// dated BRC-29 prefix during address scanning.
var brc29Suffixes = []string{"1", "2", "3"}

// brc43Protocols is the protocol grid scanned for tagged-key payments.
var brc43Protocols = []string{"payment derivation", "identity"}

// brc43GridSize bounds the key IDs enumerated per protocol.
const brc43GridSize = 3

// datedWindowDays is how many days of BRC-29 dated prefixes are scanned.
const datedWindowDays = 30

// InvoiceNumbers produces the canonical, finite candidate list of invoice
// numbers used when scanning for BRC-42 derived addresses. The list is a
// pure function of the provided date:
//
//   - BRC-29 dated invoice numbers for the past 30 days, rendered as
//     base64(yyyy-mm-dd) " " base64(suffix) over the fixed suffix set;
//   - the plain numeric strings 0 through 20;
//   - a small BRC-43 protocol grid.
func InvoiceNumbers(today time.Time) []string {
	out := make([]string, 0,
		datedWindowDays*len(brc29Suffixes)+21+
			len(brc43Protocols)*brc43GridSize)

	for day := 0; day < datedWindowDays; day++ {
		date := today.AddDate(0, 0, -day).Format("2006-01-02")
		datePart := base64.StdEncoding.EncodeToString([]byte(date))
		for _, suffix := range brc29Suffixes {
			suffixPart := base64.StdEncoding.EncodeToString(
				[]byte(suffix),
			)
			out = append(out, datePart+" "+suffixPart)
		}
	}

	for i := 0; i <= 20; i++ {
		out = append(out, fmt.Sprintf("%d", i))
	}

	for _, protocol := range brc43Protocols {
		for id := 1; id <= brc43GridSize; id++ {
			out = append(out, fmt.Sprintf("2-%s-%d", protocol, id))
		}
	}

	return out
}
