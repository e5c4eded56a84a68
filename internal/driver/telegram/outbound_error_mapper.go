package telegram

import (
	"errors"
	"strings"

	"npa-monitor/pkg/npa"

	"github.com/gotd/td/tgerr"
)

// mapTelegramOutboundError classifies gotd RPC failures into npa.OutboundError.
func mapTelegramOutboundError(operation npa.OutboundOperation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, npa.ErrInvalidOutboundRequest) {
		return err
	}

	outboundErr := &npa.OutboundError{
		Operation: operation,
		Kind:      npa.OutboundErrorKindUnknown,
		Platform:  DriverPlatform,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = npa.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			outboundErr.Code = rpcErr.Code
			outboundErr.Type = rpcErr.Type
		}

		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}

	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyTelegramRPCError(rpcErr)

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) npa.OutboundErrorKind {
	if rpcErr == nil {
		return npa.OutboundErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return npa.OutboundErrorKindRateLimited
	}

	switch rpcErr.Code {
	case 303:
		return npa.OutboundErrorKindTemporary
	case 400, 401, 403, 404, 405, 406:
		return npa.OutboundErrorKindPermanent
	}
	if rpcErr.Code >= 500 {
		return npa.OutboundErrorKindTemporary
	}

	return npa.OutboundErrorKindUnknown
}
