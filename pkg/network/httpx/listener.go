package httpx

import (
	"errors"
	"net"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/solser12/kurento/pkg/logger"
)

const maxPortRollAttempts = 42

type Listener struct {
	net.Listener
}

func NewListener(address string, rollPorts bool, log *logger.Logger) (*Listener, error) {
	ls, err := net.Listen("tcp4", address)
	if err != nil {
		if rollPorts && isErrorAddressAlreadyInUse(err) {
			host, port := splitHostPort(address)
			for i := port + 1; i < port+maxPortRollAttempts; i++ {
				log.Debug().Msgf("roll %v %v", host, i)
				ls, err = net.Listen("tcp4", host+":"+strconv.Itoa(i))
				if err == nil {
					return &Listener{ls}, err
				}
			}
		}
		return nil, err
	}
	return &Listener{ls}, err
}

func (l *Listener) GetPort() int {
	if l == nil || l.Listener == nil {
		return 0
	}
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func splitHostPort(address string) (string, int) {
	host, p, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

func isErrorAddressAlreadyInUse(err error) bool {
	var eOsSyscall *os.SyscallError
	if !errors.As(err, &eOsSyscall) {
		return false
	}
	var errErrno syscall.Errno
	if !errors.As(eOsSyscall, &errErrno) {
		return false
	}
	if errErrno == syscall.EADDRINUSE {
		return true
	}
	const WSAEADDRINUSE = 10048
	if runtime.GOOS == "windows" && errErrno == WSAEADDRINUSE {
		return true
	}
	return false
}
