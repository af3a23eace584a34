package filterbank

import "github.com/kstaniek/go-can-sniffer/internal/can"

// Rule is one id/mask pair in SocketCAN can_filter form: a frame passes when
// can_id & Mask == ID & Mask, flag bits included.
type Rule struct {
	ID   uint32
	Mask uint32
}

// Rules flattens the six slots into deduplicated kernel filter rules.
// It returns nil for accept-all, which leaves the socket default in place.
func (a Assignment) Rules() []Rule {
	if a.AcceptAll {
		return nil
	}
	out := make([]Rule, 0, Slots)
	seen := make(map[Rule]struct{}, Slots)
	for i := 0; i < Slots; i++ {
		m := a.SlotMask(i)
		r := Rule{ID: a.Filters[i] & m, Mask: m | can.CAN_EFF_FLAG}
		if a.Width == Extended {
			r.ID |= can.CAN_EFF_FLAG
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
