package signaling

// Room is a rendezvous point identified by a caller-chosen code. Members
// are kept in join order; when the count reaches two, the member that was
// already present becomes the initiator.
//
// The registry does not enforce a two-member cap. A third join is accepted
// and relayed to, but the room is excluded from initiator (re-)election and
// the protocol gives no guarantees beyond two parties.
type Room struct {
	Code    string
	Members []*Client
}

func (r *Room) add(c *Client) {
	r.Members = append(r.Members, c)
}

// remove reports whether the client was a member.
func (r *Room) remove(c *Client) bool {
	for i, m := range r.Members {
		if m == c {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) has(c *Client) bool {
	for _, m := range r.Members {
		if m == c {
			return true
		}
	}
	return false
}

// others returns a copy of the member list excluding c, safe to iterate
// while the room mutates.
func (r *Room) others(c *Client) []*Client {
	out := make([]*Client, 0, len(r.Members))
	for _, m := range r.Members {
		if m != c {
			out = append(out, m)
		}
	}
	return out
}
