package chat

import (
	"context"
	"fmt"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
	"github.com/ageniuscoder/codecollab/backend/internal/wire"
)

var framePool fastjson.ParserPool

// Dispatch decodes one inbound frame and runs the matching operation. Failures
// are reported to the client as error frames; the connection stays open.
func (h *Hub) Dispatch(c *Client, msg []byte) {
	parser := framePool.Get()
	defer framePool.Put(parser)

	v, err := parser.ParseBytes(msg)
	if err != nil {
		h.sendError(c, fmt.Errorf("%w: malformed frame", apperr.ErrInvalidRequest))
		return
	}
	event := string(v.GetStringBytes("event"))
	data := v.Get("data")

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := h.handle(ctx, c, event, data); err != nil {
		h.sendError(c, err)
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, event string, data *fastjson.Value) error {
	switch event {
	case wire.EventSetup:
		uid, err := idOf(data, "user id")
		if err != nil {
			return err
		}
		return h.Setup(c, uid)
	case wire.EventJoinRoom:
		cid, err := idOf(data, "conversation id")
		if err != nil {
			return err
		}
		return h.JoinRoom(ctx, c, cid)
	case wire.EventLeaveRoom:
		cid, err := idOf(data, "conversation id")
		if err != nil {
			return err
		}
		return h.LeaveRoom(c, cid)
	case wire.EventTyping:
		cid, err := idOf(data, "conversation id")
		if err != nil {
			return err
		}
		return h.Typing(c, cid)
	case wire.EventStopTyping:
		cid, err := idOf(data, "conversation id")
		if err != nil {
			return err
		}
		return h.StopTyping(c, cid)
	case wire.EventNewMessage:
		mid, err := idOf(data, "message id")
		if err != nil {
			return err
		}
		return h.RelayMessage(ctx, c, mid)
	case "":
		return fmt.Errorf("%w: event is required", apperr.ErrInvalidRequest)
	default:
		return fmt.Errorf("%w: unknown event %q", apperr.ErrInvalidRequest, event)
	}
}

// idOf accepts a bare number, a numeric string or an object carrying an "id".
func idOf(v *fastjson.Value, what string) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s is required", apperr.ErrInvalidRequest, what)
	}
	var (
		id  int64
		err error
	)
	switch v.Type() {
	case fastjson.TypeNumber:
		id, err = v.Int64()
	case fastjson.TypeString:
		id, err = strconv.ParseInt(string(v.GetStringBytes()), 10, 64)
	case fastjson.TypeObject:
		return idOf(v.Get("id"), what)
	default:
		err = fmt.Errorf("unexpected %s", v.Type())
	}
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", apperr.ErrInvalidRequest, what)
	}
	return id, nil
}
