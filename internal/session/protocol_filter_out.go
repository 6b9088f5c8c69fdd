package session

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/libbitcoin/libbitcoin-node-sub001/internal/query"
)

// FilterOutProtocol serves BIP157 compact filter requests (spec.md §4.7
// step 4, §6 wire protocols), installed only when the node is configured for
// it and the peer signals the matching service bit. Only getcfilters is
// handled; getcfheaders and getcfcheckpt are not served.
type FilterOutProtocol struct {
	channel Channel
	node    Node
}

// NewFilterOutProtocol constructs a FilterOutProtocol.
func NewFilterOutProtocol(channel Channel, node Node) *FilterOutProtocol {
	return &FilterOutProtocol{channel: channel, node: node}
}

func (p *FilterOutProtocol) Start() error { return nil }
func (p *FilterOutProtocol) Stop()        {}

// OnGetCFilters serves a range request: one cfilter per candidate height
// from StartHeight up to the header matching StopHash, each carrying the
// filter body cached on that header's Context. Heights with no cached body
// are skipped.
func (p *FilterOutProtocol) OnGetCFilters(msg *wire.MsgGetCFilters) error {
	for h := msg.StartHeight; ; h++ {
		link, ok := p.node.Query().ToCandidate(query.Height(h))
		if !ok {
			break
		}
		body, ok := p.node.Query().GetFilterBody(link)
		if !ok {
			continue
		}
		header, ok := p.node.Query().GetHeader(link)
		if !ok {
			continue
		}
		reply := wire.NewMsgCFilter(msg.FilterType, header.Hash(), body)
		if err := p.channel.Send(reply); err != nil {
			return err
		}
		if header.Hash() == msg.StopHash {
			break
		}
	}
	return nil
}
