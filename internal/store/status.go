package store

// Op names a store operation that talks to the gateway.
type Op string

const (
	OpLoadAll  Op = "load_all"
	OpLoadMine Op = "load_mine"
	OpLoadOne  Op = "load_one"
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpRemove   Op = "remove"
)

// Ops lists every operation in a stable order.
var Ops = []Op{OpLoadAll, OpLoadMine, OpLoadOne, OpCreate, OpUpdate, OpRemove}

// Phase is the lifecycle of one operation.
type Phase int

const (
	Idle Phase = iota
	Pending
	Done
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// OpStatus is the last known state of an operation. Err is set when the
// most recent completion failed.
type OpStatus struct {
	Phase Phase
	Err   *Error
}

// Failed reports whether the last completion failed.
func (s OpStatus) Failed() bool { return s.Phase == Done && s.Err != nil }
