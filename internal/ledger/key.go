package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key addresses a value in the keyed store. Keys are namespaced per
// component, for example "escrow/job/0x…".
type Key string

// NewKey joins a namespace and its parts with "/".
func NewKey(namespace string, parts ...string) Key {
	if len(parts) == 0 {
		return Key(namespace)
	}
	return Key(namespace + "/" + strings.Join(parts, "/"))
}

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// Namespace returns the leading segment of the key.
func (k Key) Namespace() string {
	s := string(k)
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// AddressPart renders an account for use inside a key.
func AddressPart(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// HashPart renders a hash for use inside a key.
func HashPart(h common.Hash) string {
	return h.Hex()
}
