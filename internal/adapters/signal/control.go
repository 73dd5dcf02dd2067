package signal

import "github.com/dkeye/Consult/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendFrame(conn, domain.Frame{Event: domain.EventPong})
}
