package iqscope

import (
	"errors"
	"fmt"
)

var (
	ErrQueueFull     = errors.New("acquisition queue full")
	ErrQueueTimeout  = errors.New("no data from acquisition queue")
	ErrInvalidRange  = errors.New("range max must be greater than min")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// OverflowPolicy decides what Push does with a full queue
type OverflowPolicy string

const (
	OverflowFatal      OverflowPolicy = "fatal"       // refuse and report ErrQueueFull
	OverflowDropNewest OverflowPolicy = "drop-newest" // discard the incoming chunk
	OverflowDropOldest OverflowPolicy = "drop-oldest" // evict the head to make room
	OverflowBlock      OverflowPolicy = "block"       // wait up to PushTimeout, then ErrQueueFull
)

// ParseOverflowPolicy validates a policy name from flags or config
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case OverflowFatal, OverflowDropNewest, OverflowDropOldest, OverflowBlock:
		return p, nil
	case "":
		return OverflowFatal, nil
	default:
		return "", fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, s)
	}
}
