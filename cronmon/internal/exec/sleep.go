package exec

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// sleepProcess is a Process that only idles for a duration, used by the
// supervisor and launcher tests so they can exercise restart/backoff timing
// without forking real children. The zero PID is never used by real
// processes, so tests pick distinct small integers.
type sleepProcess struct {
	once  sync.Once
	stop  chan struct{}
	timer *time.Timer
	delay time.Duration

	pid    int
	exit   int32 // -2 unset, -1 signaled, >=0 exit code
	signal int32
}

// NewSleepProcess creates a process that idles for dura before exiting 0, or
// until Signal()'d. If delay is larger than 0, a caught signal takes that
// long to actually stop the mock, modeling a child slow to honor SIGTERM.
func NewSleepProcess(dura, delay time.Duration, pid int) Process {
	return &sleepProcess{
		stop:  make(chan struct{}),
		timer: time.NewTimer(dura),
		delay: delay,

		pid:  pid,
		exit: -2,
	}
}

func (mock *sleepProcess) PID() int { return mock.pid }

func (mock *sleepProcess) Signal(sig os.Signal) error {
	var exit int32
	var signaled bool

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT, os.Interrupt:
		exit, signaled = 0, true
	case syscall.SIGKILL, os.Kill:
		exit, signaled = -1, true
	default:
		return errors.New("unknown signal")
	}

	go func() {
		if mock.delay > 0 && sig != syscall.SIGKILL && sig != os.Kill {
			select {
			case <-time.After(mock.delay):
			case <-mock.stop:
				return
			}
		}

		if !atomic.CompareAndSwapInt32(&mock.exit, -2, exit) {
			return
		}
		if signaled {
			atomic.StoreInt32(&mock.signal, int32(sig.(syscall.Signal)))
		}

		close(mock.stop)
		mock.timer.Stop()
	}()

	return nil
}

func (mock *sleepProcess) Kill() error {
	return mock.Signal(syscall.SIGKILL)
}

func (mock *sleepProcess) Wait() ExitStatus {
	mock.once.Do(func() {
		select {
		case <-mock.stop:
		case <-mock.timer.C:
			atomic.StoreInt32(&mock.exit, 0)
		}
	})

	code := atomic.LoadInt32(&mock.exit)
	if code == -1 {
		return ExitStatus{PID: mock.pid, Signaled: true, Signal: int(atomic.LoadInt32(&mock.signal))}
	}
	return ExitStatus{PID: mock.pid, Code: int(code)}
}
