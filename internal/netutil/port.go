package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// PortWindow is how many candidates above the desired port are probed before
// acquisition gives up.
const PortWindow = 100

// AcquisitionError reports that no bindable port was found in the probe window.
type AcquisitionError struct {
	Desired int
	Window  int
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("no free port in [%d, %d]", e.Desired, e.Desired+e.Window)
}

// AcquirePort returns the first port in [desired, desired+PortWindow] that can
// be bound on localhost. The probe listener is released immediately, so
// another process may still claim the port before the service binds it; that
// race is accepted, not eliminated.
func AcquirePort(desired int) (int, error) {
	for candidate := desired; candidate <= desired+PortWindow; candidate++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(candidate)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return candidate, nil
	}
	return 0, &AcquisitionError{Desired: desired, Window: PortWindow}
}
