package httpx

import (
	"net"
	"strconv"
)

// mergeAddresses joins the network host from the first param
// with the port value of the listener from the second param.
func mergeAddresses(address string, l Listener) string {
	addr, _, err := net.SplitHostPort(address)
	if err != nil {
		addr = address
	}
	port := l.GetPort()
	if port > 0 {
		addr += ":" + strconv.Itoa(port)
	}
	return addr
}
