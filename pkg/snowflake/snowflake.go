package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits

	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1704067200000
)

// Node generates time-ordered 63-bit message ids. Ids from one node are strictly increasing.
type Node struct {
	mu    sync.Mutex
	last  int64
	node  int64
	step  int64
	nowFn func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake node %d out of range [0, %d]", node, nodeMax)
	}
	return &Node{
		node:  node,
		nowFn: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.nowFn()
	if now < n.last {
		// Clock moved backwards; keep issuing from the last seen millisecond.
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.last {
				now = n.nowFn()
			}
		}
	} else {
		n.step = 0
	}
	n.last = now

	return ((now - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time returns the creation time encoded in id, truncated to the millisecond.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch).UTC()
}
