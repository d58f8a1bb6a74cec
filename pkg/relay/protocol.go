package relay

import (
	stderrors "errors"

	"github.com/gorilla/websocket"
)

const (
	GetHistoryCommand = "(GET_HISTORY)"
	LoadingMarker     = "[LOADING]"
	DoneMarker        = "[DONE]"
	ErrorPrefix       = "[ERROR] "
	CloseReason       = "session actor is closing websocket"
)

// closeCodeFromError extracts the peer's close code from a read error. Any
// other read failure counts as an abnormal closure.
func closeCodeFromError(err error) int {
	var ce *websocket.CloseError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// sendableCloseCode maps codes that must not appear in a close frame to 1000.
func sendableCloseCode(code int) int {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseNormalClosure
	}
	if code < 1000 || code >= 5000 || (code >= 1016 && code < 3000) {
		return websocket.CloseNormalClosure
	}
	return code
}
