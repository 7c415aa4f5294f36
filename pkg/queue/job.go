package queue

import "context"

// Job handles one message type.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// JobFunc adapts a function to Job. Name and Type are the same string.
type JobFunc struct {
	MsgType string
	Fn      func(ctx context.Context, payload interface{}) error
}

func (j JobFunc) Name() string { return j.MsgType }
func (j JobFunc) Type() string { return j.MsgType }

func (j JobFunc) Handle(ctx context.Context, payload interface{}) error {
	return j.Fn(ctx, payload)
}
