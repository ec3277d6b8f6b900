package graph

import "fmt"

// Mode is the combination rule applied when a connection's source and target
// cardinalities differ.
//
// Narrowing a list to a scalar is never implicit: a plain stage consuming a
// fan-out output must use IndexSelect, and the selection index is part of
// the connection so arity problems surface at validation rather than as
// silent truncation.
type Mode string

const (
	// Direct passes a scalar source to a scalar target input.
	Direct Mode = "direct"

	// Broadcast holds one scalar fixed across every element of a fan-out
	// target.
	Broadcast Mode = "broadcast"

	// IndexSelect picks one element of a list source for a scalar target
	// input.
	IndexSelect Mode = "index_select"

	// Zip pairs a list source positionally with the other iterated slots of
	// a fan-out target. All zipped lists must have equal length.
	Zip Mode = "zip"

	// Cross combines a list source with the other iterated slots of a
	// nested fan-out target as an outer product. A scalar source is treated
	// as a list of length one.
	Cross Mode = "cross"
)

// Connection is a directed binding from a source stage's output slot to a
// target stage's input slot. It is both a data route and a dependency edge.
type Connection struct {
	From     string
	FromSlot string
	To       string
	ToSlot   string
	Mode     Mode

	// Index is the selected element for IndexSelect connections.
	Index int
}

// Connect builds a Direct connection.
func Connect(from, fromSlot, to, toSlot string) Connection {
	return Connection{From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot, Mode: Direct}
}

// ConnectBroadcast builds a Broadcast connection.
func ConnectBroadcast(from, fromSlot, to, toSlot string) Connection {
	return Connection{From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot, Mode: Broadcast}
}

// ConnectIndex builds an IndexSelect connection choosing element i.
func ConnectIndex(from, fromSlot, to, toSlot string, i int) Connection {
	return Connection{From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot, Mode: IndexSelect, Index: i}
}

// ConnectZip builds a Zip connection into a fan-out iterated slot.
func ConnectZip(from, fromSlot, to, toSlot string) Connection {
	return Connection{From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot, Mode: Zip}
}

// ConnectCross builds a Cross connection into a nested fan-out iterated slot.
func ConnectCross(from, fromSlot, to, toSlot string) Connection {
	return Connection{From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot, Mode: Cross}
}

func (c Connection) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s (%s)", c.From, c.FromSlot, c.To, c.ToSlot, c.Mode)
}

func (c Connection) validMode() bool {
	switch c.Mode {
	case Direct, Broadcast, IndexSelect, Zip, Cross:
		return true
	default:
		return false
	}
}
