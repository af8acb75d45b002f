package protocol

// Request is one rank's ask for a collective operation on a named tensor.
// The tensor name is the cross-rank matching key; the coordinator considers
// an operation ready once every rank has submitted a Request for the name.
type Request struct {
	// RequestRank orders results consistently across ranks, for example in
	// an allgather where outputs are concatenated in rank order.
	RequestRank int32
	Type        RequestType
	TensorType  DataType
	// RootRank is meaningful only for broadcast.
	RootRank int32
	// Device is a locality hint (negative for host memory).
	Device     int32
	TensorName string
	// TensorShape lists dimension sizes in order; empty means scalar.
	TensorShape []int64
}

// RequestList is everything one rank offers for a single negotiation round,
// plus its shutdown vote. Immutable once submitted.
type RequestList struct {
	Requests []Request
	Shutdown bool
}
