package poller

import "github.com/oraclewatch/xrpusd/internal/core/domain"

// Subscribe registers a price-update listener with the given channel
// buffer. Updates to a full channel are dropped rather than blocking the
// poll loop. The returned function unsubscribes and closes the channel.
func (p *Poller) Subscribe(buffer int) (<-chan domain.PriceUpdate, func()) {
	ch := make(chan domain.PriceUpdate, buffer)

	p.subMu.Lock()
	p.subID++
	id := p.subID
	p.subs[id] = ch
	p.subMu.Unlock()

	unsubscribe := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (p *Poller) publish(update domain.PriceUpdate) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- update:
		default:
		}
	}
}
