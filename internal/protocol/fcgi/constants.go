package fcgi

import "fmt"

// ============================================================================
// FastCGI Protocol Constants
// ============================================================================
//
// Record = Header(8) + content[0..65535] + padding[0..255]
// Header = version(1) + type(1) + requestId(2) + contentLength(2) +
//          paddingLength(1) + reserved(1)
//
// All multi-byte integers are big-endian. Discrete records (BeginRequest,
// EndRequest, GetValues...) stand alone; stream records (Params, Stdin,
// Stdout, Stderr, Data) end with a record whose content length is zero.

const (
	// Version1 is the only protocol version defined by FastCGI.
	Version1 uint8 = 1

	// HeaderSize is the fixed size of a record header in bytes.
	HeaderSize = 8

	// MaxContentLength is the largest content a single record can carry
	// (16-bit contentLength field).
	MaxContentLength = 65535

	// MaxPaddingLength is the largest padding a single record can carry
	// (8-bit paddingLength field).
	MaxPaddingLength = 255

	// MaxRecordSize is the size of the largest possible record.
	MaxRecordSize = HeaderSize + MaxContentLength + MaxPaddingLength

	// recordAlignment is the boundary records are padded to when encoding.
	recordAlignment = 8

	// NullRequestID is the request id used by management records.
	NullRequestID uint16 = 0
)

// RecordType identifies the kind of a FastCGI record.
type RecordType uint8

const (
	TypeBeginRequest    RecordType = 1
	TypeAbortRequest    RecordType = 2
	TypeEndRequest      RecordType = 3
	TypeParams          RecordType = 4
	TypeStdin           RecordType = 5
	TypeStdout          RecordType = 6
	TypeStderr          RecordType = 7
	TypeData            RecordType = 8
	TypeGetValues       RecordType = 9
	TypeGetValuesResult RecordType = 10
	TypeUnknownType     RecordType = 11
)

// String implements fmt.Stringer.
func (t RecordType) String() string {
	switch t {
	case TypeBeginRequest:
		return "FCGI_BEGIN_REQUEST"
	case TypeAbortRequest:
		return "FCGI_ABORT_REQUEST"
	case TypeEndRequest:
		return "FCGI_END_REQUEST"
	case TypeParams:
		return "FCGI_PARAMS"
	case TypeStdin:
		return "FCGI_STDIN"
	case TypeStdout:
		return "FCGI_STDOUT"
	case TypeStderr:
		return "FCGI_STDERR"
	case TypeData:
		return "FCGI_DATA"
	case TypeGetValues:
		return "FCGI_GET_VALUES"
	case TypeGetValuesResult:
		return "FCGI_GET_VALUES_RESULT"
	case TypeUnknownType:
		return "FCGI_UNKNOWN_TYPE"
	default:
		return fmt.Sprintf("FCGI_TYPE(%d)", uint8(t))
	}
}

// IsManagement reports whether records of this type belong to the
// connection rather than to a request (request id 0).
func (t RecordType) IsManagement() bool {
	return t == TypeGetValues || t == TypeGetValuesResult || t == TypeUnknownType
}

// IsStream reports whether records of this type form a stream terminated
// by an empty record.
func (t RecordType) IsStream() bool {
	switch t {
	case TypeParams, TypeStdin, TypeStdout, TypeStderr, TypeData:
		return true
	default:
		return false
	}
}

// Role is the role requested by a BeginRequest record.
type Role uint16

const (
	RoleResponder  Role = 1
	RoleAuthorizer Role = 2
	RoleFilter     Role = 3
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleResponder:
		return "RESPONDER"
	case RoleAuthorizer:
		return "AUTHORIZER"
	case RoleFilter:
		return "FILTER"
	default:
		return fmt.Sprintf("ROLE(%d)", uint16(r))
	}
}

// Flags is the flags byte of a BeginRequest record.
type Flags uint8

// FlagKeepConn asks the application to keep the connection open after
// the response has been sent.
const FlagKeepConn Flags = 1 << 0

// KeepConn reports whether the keep-connection bit is set.
func (f Flags) KeepConn() bool {
	return f&FlagKeepConn != 0
}

// ProtocolStatus is the protocol-level outcome carried by EndRequest.
type ProtocolStatus uint8

const (
	StatusRequestComplete ProtocolStatus = 0
	StatusCannotMultiplex ProtocolStatus = 1
	StatusOverloaded      ProtocolStatus = 2
	StatusUnknownRole     ProtocolStatus = 3
)

// String implements fmt.Stringer.
func (s ProtocolStatus) String() string {
	switch s {
	case StatusRequestComplete:
		return "FCGI_REQUEST_COMPLETE"
	case StatusCannotMultiplex:
		return "FCGI_CANT_MPX_CONN"
	case StatusOverloaded:
		return "FCGI_OVERLOADED"
	case StatusUnknownRole:
		return "FCGI_UNKNOWN_ROLE"
	default:
		return fmt.Sprintf("FCGI_STATUS(%d)", uint8(s))
	}
}

// Capability names understood in GetValues / GetValuesResult records.
const (
	ValueMaxConns  = "FCGI_MAX_CONNS"
	ValueMaxReqs   = "FCGI_MAX_REQS"
	ValueMpxsConns = "FCGI_MPXS_CONNS"
)
