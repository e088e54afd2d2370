package autoid

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// RequestIDAllocator hands out IDs for managed requests.
type RequestIDAllocator interface {
	AllocID() string
}

// SeqAllocator allocates prefixed sequential IDs. It is handy in tests
// where predictable IDs make assertions readable.
type SeqAllocator struct {
	sync.Mutex
	prefix string
	seq    int64
}

func NewSeqAllocator(prefix string) *SeqAllocator {
	return &SeqAllocator{prefix: prefix}
}

func (a *SeqAllocator) AllocID() string {
	a.Lock()
	defer a.Unlock()
	a.seq++
	return a.prefix + strconv.FormatInt(a.seq, 10)
}

type UUIDAllocator struct{}

func NewUUIDAllocator() *UUIDAllocator {
	return new(UUIDAllocator)
}

func (a *UUIDAllocator) AllocID() string {
	return uuid.New().String()
}
