package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// StatusError is a non-2xx reply from the exchange endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func (e *StatusError) RateLimited() bool { return e.Code == http.StatusTooManyRequests }

func (e *StatusError) ServerSide() bool { return e.Code >= 500 }

// ActionError is an exchange-level refusal: the request was well formed and the
// exchange answered, but it did not apply the action.
type ActionError struct {
	Message string
}

func (e *ActionError) Error() string {
	return "exchange rejected action: " + e.Message
}

func IsActionError(err error) bool {
	var target *ActionError
	return errors.As(err, &target)
}

type envelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type statusesBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type restingStatus struct {
	Oid   int64  `json:"oid"`
	Cloid string `json:"cloid"`
}

type filledStatus struct {
	TotalSz decimal.Decimal `json:"totalSz"`
	AvgPx   decimal.Decimal `json:"avgPx"`
	Oid     int64           `json:"oid"`
	Cloid   string          `json:"cloid"`
}

type rawStatus struct {
	Resting *restingStatus `json:"resting"`
	Filled  *filledStatus  `json:"filled"`
	Error   *string        `json:"error"`
}

func decodeEnvelope(data []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	if env.Status != "ok" {
		var msg string
		if err := json.Unmarshal(env.Response, &msg); err != nil {
			msg = string(env.Response)
		}
		return nil, &ActionError{Message: msg}
	}
	return env.Response, nil
}

func decodeStatuses(data []byte) ([]rawStatus, error) {
	body, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	var parsed statusesBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	out := make([]rawStatus, 0, len(parsed.Data.Statuses))
	for _, raw := range parsed.Data.Statuses {
		var st rawStatus
		// "success" is a bare string for cancels.
		if err := json.Unmarshal(raw, &st); err != nil {
			var s string
			if json.Unmarshal(raw, &s) != nil {
				return nil, fmt.Errorf("decode status: %w", err)
			}
			if s != "success" {
				st.Error = &s
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func parseOrderResponse(data []byte) (OrderStatus, error) {
	statuses, err := decodeStatuses(data)
	if err != nil {
		return OrderStatus{}, err
	}
	if len(statuses) == 0 {
		return OrderStatus{}, errors.New("order response has no statuses")
	}
	st := statuses[0]
	switch {
	case st.Error != nil:
		return OrderStatus{Error: *st.Error}, nil
	case st.Filled != nil:
		return OrderStatus{
			Oid:        st.Filled.Oid,
			Cloid:      st.Filled.Cloid,
			Filled:     true,
			FilledSize: st.Filled.TotalSz,
			AvgPrice:   st.Filled.AvgPx,
		}, nil
	case st.Resting != nil:
		return OrderStatus{Oid: st.Resting.Oid, Cloid: st.Resting.Cloid, Resting: true}, nil
	default:
		return OrderStatus{}, errors.New("order status not recognised")
	}
}

func checkStatuses(data []byte) error {
	statuses, err := decodeStatuses(data)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.Error != nil {
			return &ActionError{Message: *st.Error}
		}
	}
	return nil
}
