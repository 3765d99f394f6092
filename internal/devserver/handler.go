package devserver

import (
	"context"
	"fmt"

	"github.com/tiatele/telecore/proto"
)

type requestHandler interface {
	MethodName() string
	Handle(ctx context.Context, hc *hubConn, req *proto.Request) *proto.Response
}

type typedRequestHandler[I proto.NamedRequest, O any] struct {
	name string
	h    func(context.Context, *hubConn, I) (*O, error)
}

func (t *typedRequestHandler[I, O]) MethodName() string {
	return t.name
}

func (t *typedRequestHandler[I, O]) Handle(ctx context.Context, hc *hubConn, req *proto.Request) *proto.Response {
	params, err := proto.As[I](req.Params)
	if err != nil {
		return req.NotOk(proto.NewBadRequestError(fmt.Errorf("decode params: %w", err)))
	}

	if v, ok := any(*params).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return req.NotOk(proto.NewBadRequestError(err))
		}
	}

	out, err := t.h(ctx, hc, *params)
	if err != nil {
		return req.NotOk(proto.ToResponseError(err))
	}

	return req.Ok(out)
}

func handleRequest[T proto.NamedRequest, O any](handler func(context.Context, *hubConn, T) (*O, error)) requestHandler {
	var zero T
	return &typedRequestHandler[T, O]{
		name: zero.MethodName(),
		h:    handler,
	}
}
