package signaling

import "errors"

var (
	ErrOfferOutstanding  = errors.New("an offer is already outstanding for this pair")
	ErrNoOfferOutstanding = errors.New("no offer is outstanding for this pair")
	ErrPeerNotConnected  = errors.New("peer is not connected")
	ErrQueueFull         = errors.New("candidate queue for this pair is full")
)
