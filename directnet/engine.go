package directnet

// exchange runs one request end to end: Header (which performs Select), the data
// transfer, and a closing EOT.
//
// The whole sequence restarts, up to the retry limit, only when the target
// answers the header with EOT. Every other failure is final for the request and
// is returned as the failing stage's Status.
func (w *wireProtocol) exchange(cmd Command, addr uint16, length int, transfer func() Status) Status {
	var status Status

	for attempt := 1; attempt <= w.cfg.retryLimit; attempt++ {
		status = w.header(cmd, addr, length)
		if status == Success {
			status = transfer()
		}

		w.endTransmission()

		if status != UnexpectedDisconnect {
			return status
		}

		w.logger.Warn("directnet: target released the line during header, restarting exchange",
			"command", cmd,
			"address", addr,
			"attempt", attempt,
			"retryLimit", w.cfg.retryLimit,
		)
	}

	return status
}
