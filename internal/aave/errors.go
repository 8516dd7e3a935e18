package aave

import (
	"errors"
	"strings"

	"dn-carry-bot/internal/venue"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Node replies that prove the transaction was not accepted into the pool.
var notAcceptedMarkers = []string{
	"nonce too low",
	"replacement transaction underpriced",
	"transaction underpriced",
	"max fee per gas less than block base fee",
	"rate limit",
	"too many requests",
}

// classifySend maps a failed Send. A zero hash means nothing was signed or broadcast.
func classifySend(err error, hash common.Hash) venue.Result {
	var revert *RevertError
	if errors.As(err, &revert) {
		return venue.Rejected("execution_reverted", err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return venue.Rejected("insufficient_funds", err)
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return venue.Transient(err)
	}
	for _, marker := range notAcceptedMarkers {
		if strings.Contains(msg, marker) {
			return venue.Transient(err)
		}
	}
	if venue.IsConnectivity(err) {
		return venue.Transient(venue.Connectivity(err))
	}
	if hash == (common.Hash{}) {
		return venue.Transient(err)
	}
	// Broadcast may have reached the pool ("already known", timeouts, dropped replies).
	return venue.Unknown(hash.Hex(), err)
}
