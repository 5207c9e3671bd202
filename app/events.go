package app

import "cwchain/core"

func newEvent(kind string, addr core.Address, attrs []core.Attribute) core.Event {
	if attrs == nil {
		attrs = []core.Attribute{}
	}
	return core.Event{Kind: kind, Address: addr, Attributes: attrs}
}

func failureEvent(addr core.Address, reason string) core.Event {
	return newEvent("failure", addr, []core.Attribute{
		core.NewAttributeString("error", reason),
	})
}
