package store

type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpPut
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Op is a single write handed to a backend. Entries are filled in by the Store
// from the collection's index declarations.
type Op struct {
	Kind       OpKind
	Collection string
	Key        int64
	Value      []byte
	Entries    []IndexEntry
}

// Batch collects writes that commit together or not at all.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

// Add inserts a record under a key assigned at commit time.
func (b *Batch) Add(collection string, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpInsert, Collection: collection, Value: value})
}

// Insert writes a new record under a key obtained from Store.Reserve.
func (b *Batch) Insert(collection string, key int64, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpInsert, Collection: collection, Key: key, Value: value})
}

// Put replaces an existing record wholesale.
func (b *Batch) Put(collection string, key int64, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpPut, Collection: collection, Key: key, Value: value})
}

func (b *Batch) Delete(collection string, key int64) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: collection, Key: key})
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

func (b *Batch) Ops() []Op {
	if b == nil {
		return nil
	}
	out := make([]Op, len(b.ops))
	copy(out, b.ops)
	return out
}
