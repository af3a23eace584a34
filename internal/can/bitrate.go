package can

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownBitrate is returned for selectors outside the supported table.
var ErrUnknownBitrate = errors.New("can: unknown bitrate")

// Bitrate is a bus speed in bit/s.
type Bitrate uint32

// Supported bus speeds.
const (
	Rate4K096 Bitrate = 4096
	Rate5K    Bitrate = 5000
	Rate10K   Bitrate = 10000
	Rate20K   Bitrate = 20000
	Rate31K25 Bitrate = 31250
	Rate33K3  Bitrate = 33300
	Rate40K   Bitrate = 40000
	Rate50K   Bitrate = 50000
	Rate80K   Bitrate = 80000
	Rate100K  Bitrate = 100000
	Rate125K  Bitrate = 125000
	Rate200K  Bitrate = 200000
	Rate250K  Bitrate = 250000
	Rate500K  Bitrate = 500000
	Rate1000K Bitrate = 1000000

	DefaultBitrate = Rate500K
)

var bitrateNames = []struct {
	name string
	rate Bitrate
}{
	{"4K096BPS", Rate4K096},
	{"5KBPS", Rate5K},
	{"10KBPS", Rate10K},
	{"20KBPS", Rate20K},
	{"31K25BPS", Rate31K25},
	{"33K3BPS", Rate33K3},
	{"40KBPS", Rate40K},
	{"50KBPS", Rate50K},
	{"80KBPS", Rate80K},
	{"100KBPS", Rate100K},
	{"125KBPS", Rate125K},
	{"200KBPS", Rate200K},
	{"250KBPS", Rate250K},
	{"500KBPS", Rate500K},
	{"1000KBPS", Rate1000K},
}

// ParseBitrate accepts a selector such as "500KBPS" (case-insensitive) or a
// plain bit/s value present in the table ("500000").
func ParseBitrate(s string) (Bitrate, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, e := range bitrateNames {
		if v == e.name {
			return e.rate, nil
		}
	}
	if n, err := strconv.ParseUint(v, 10, 32); err == nil {
		for _, e := range bitrateNames {
			if uint64(e.rate) == n {
				return e.rate, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBitrate, s)
}

// String renders the selector form ("500KBPS").
func (b Bitrate) String() string {
	for _, e := range bitrateNames {
		if e.rate == b {
			return e.name
		}
	}
	return strconv.FormatUint(uint64(b), 10) + "BPS"
}
