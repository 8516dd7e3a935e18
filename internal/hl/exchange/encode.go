package exchange

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// ordered is a msgpack map that keeps key order. Action hashes depend on the exact
// byte layout, so actions never go through struct reflection.
type ordered []kv

type kv struct {
	key string
	val any
}

func (o ordered) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(o)); err != nil {
		return err
	}
	for _, p := range o {
		if err := enc.EncodeString(p.key); err != nil {
			return err
		}
		if err := enc.Encode(p.val); err != nil {
			return err
		}
	}
	return nil
}

func marshal(v ordered) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeOrderAction(action OrderAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Orders) == 0 {
		return nil, errors.New("action orders are required")
	}
	if action.Grouping == "" {
		action.Grouping = "na"
	}
	orders := make([]ordered, 0, len(action.Orders))
	for _, order := range action.Orders {
		wire, err := orderWireMap(order)
		if err != nil {
			return nil, err
		}
		orders = append(orders, wire)
	}
	return marshal(ordered{
		{"type", action.Type},
		{"orders", orders},
		{"grouping", action.Grouping},
	})
}

func EncodeCancelByCloidAction(action CancelByCloidAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Cancels) == 0 {
		return nil, errors.New("action cancels are required")
	}
	cancels := make([]ordered, 0, len(action.Cancels))
	for _, c := range action.Cancels {
		if c.Cloid == "" {
			return nil, errors.New("cloid is required")
		}
		cancels = append(cancels, ordered{
			{"asset", uint64(c.Asset)},
			{"cloid", c.Cloid},
		})
	}
	return marshal(ordered{
		{"type", action.Type},
		{"cancels", cancels},
	})
}

func EncodeUpdateLeverageAction(action UpdateLeverageAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if action.Leverage <= 0 {
		return nil, errors.New("leverage must be > 0")
	}
	return marshal(ordered{
		{"type", action.Type},
		{"asset", uint64(action.Asset)},
		{"isCross", action.IsCross},
		{"leverage", uint64(action.Leverage)},
	})
}

func orderWireMap(order OrderWire) (ordered, error) {
	if order.OrderType.Limit == nil {
		return nil, errors.New("limit order type required")
	}
	out := ordered{
		{"a", uint64(order.Asset)},
		{"b", order.IsBuy},
		{"p", order.Price},
		{"s", order.Size},
		{"r", order.ReduceOnly},
		{"t", ordered{{"limit", ordered{{"tif", string(order.OrderType.Limit.Tif)}}}}},
	}
	if order.Cloid != "" {
		out = append(out, kv{"c", order.Cloid})
	}
	return out, nil
}
