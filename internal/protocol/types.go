package protocol

import "fmt"

// Role identifies which side of a connection the local process plays.
type Role uint8

const (
	RoleServer Role = iota + 1
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Kind is the top-level envelope category. Each kind has exactly one
// originating role.
type Kind uint8

const (
	KindHandshake    Kind = 1 // client -> server
	KindLog          Kind = 2 // client -> server
	KindClientLookIn Kind = 3 // client -> server
	KindLookIn       Kind = 4 // server -> client
	KindClientFile   Kind = 5 // client -> server
	KindFile         Kind = 6 // server -> client
)

// Origin returns the role that may originate a request of this kind.
func (k Kind) Origin() Role {
	switch k {
	case KindLookIn, KindFile:
		return RoleServer
	default:
		return RoleClient
	}
}

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindLog:
		return "log"
	case KindClientLookIn:
		return "client_lookin"
	case KindLookIn:
		return "lookin"
	case KindClientFile:
		return "client_file"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SubKind is scoped to its Kind.
type SubKind uint8

const (
	SubHandshake SubKind = 1
	SubLog       SubKind = 1
	SubLookIn    SubKind = 1

	SubFetchDirectory SubKind = 1
	SubMD5            SubKind = 2
	SubDownload       SubKind = 3
)

// Direction selects the request-shaped or response-shaped payload at a key.
type Direction uint8

const (
	DirRequest Direction = iota
	DirResponse
)

func (d Direction) String() string {
	if d == DirResponse {
		return "response"
	}
	return "request"
}

// DirectionFor derives the direction of an inbound envelope. A kind that the
// local role originates can only arrive as a reply.
func DirectionFor(local Role, k Kind) Direction {
	if k.Origin() == local {
		return DirResponse
	}
	return DirRequest
}
