package protocol

// DataType identifies the element type of a negotiated tensor.
// Wire ordinals are frozen; never renumber across deployed versions.
type DataType uint8

const (
	TypeUint8 DataType = iota
	TypeInt8
	TypeUint16
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat16
	TypeFloat32
	TypeFloat64
	TypeBool

	numDataTypes
)

var dataTypeNames = [numDataTypes]string{
	"uint8", "int8", "uint16", "int16", "int32", "int64",
	"float16", "float32", "float64", "bool",
}

func (t DataType) String() string {
	if t < numDataTypes {
		return dataTypeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is a known wire ordinal.
func (t DataType) Valid() bool { return t < numDataTypes }

// RequestType is the collective operation a rank asks for.
type RequestType uint8

const (
	RequestAllreduce RequestType = iota
	RequestAllgather
	RequestBroadcast

	numRequestTypes
)

var requestTypeNames = [numRequestTypes]string{"allreduce", "allgather", "broadcast"}

func (t RequestType) String() string {
	if t < numRequestTypes {
		return requestTypeNames[t]
	}
	return "unknown"
}

func (t RequestType) Valid() bool { return t < numRequestTypes }

// ResponseType is the coordinator's decision for one or more tensors.
// The first three ordinals mirror RequestType; Error carries a textual
// reason instead of an operation.
type ResponseType uint8

const (
	ResponseAllreduce ResponseType = iota
	ResponseAllgather
	ResponseBroadcast
	ResponseError

	numResponseTypes
)

var responseTypeNames = [numResponseTypes]string{"allreduce", "allgather", "broadcast", "error"}

func (t ResponseType) String() string {
	if t < numResponseTypes {
		return responseTypeNames[t]
	}
	return "unknown"
}

func (t ResponseType) Valid() bool { return t < numResponseTypes }
