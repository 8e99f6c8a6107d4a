package modbus

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePort is an in-memory Port. Writes are recorded; when respond is set,
// its frames are delivered to the engine synchronously on every write.
type fakePort struct {
	mu      sync.Mutex
	open    bool
	handler PortHandler
	written [][]byte
	respond func(frame []byte) [][]byte
}

func newFakePort() *fakePort {
	return &fakePort{open: true}
}

func (p *fakePort) Open() error {
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.open = false
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler.OnClose()
	}
	return nil
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePort) SetHandler(h PortHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *fakePort) Write(frame []byte) error {
	p.mu.Lock()
	copied := make([]byte, len(frame))
	copy(copied, frame)
	p.written = append(p.written, copied)
	respond := p.respond
	handler := p.handler
	p.mu.Unlock()
	if respond != nil && handler != nil {
		for _, resp := range respond(copied) {
			handler.OnFrame(resp)
		}
	}
	return nil
}

func (p *fakePort) lastWritten() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.written) == 0 {
		return nil
	}
	return p.written[len(p.written)-1]
}

// deliver injects a frame as if it arrived from the wire.
func (p *fakePort) deliver(frame []byte) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		handler.OnFrame(frame)
	}
}

func newTestClient(port *fakePort) *Client {
	c := NewClient(port)
	c.SetLogger(nil)
	c.SetSlaveID(17)
	c.SetTimeout(100 * time.Millisecond)
	return c
}

func TestReadHoldingRegistersRoundTrip(t *testing.T) {
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{{0x11, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52, 0x49, 0xAD}}
	}
	c := newTestClient(port)

	res, err := c.ReadHoldingRegisters(0x006B, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}

	wantRequest := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x02, 0x76, 0x87}
	got := port.lastWritten()
	if len(got) != len(wantRequest) {
		t.Fatalf("request frame length: got %d, want %d", len(got), len(wantRequest))
	}
	for i := range wantRequest {
		if got[i] != wantRequest[i] {
			t.Fatalf("request frame mismatch at %d: got % X, want % X", i, got, wantRequest)
		}
	}
	if len(res.Data) != 2 || res.Data[0] != 0xAE41 || res.Data[1] != 0x5652 {
		t.Errorf("decoded registers: got %v, want [0xAE41 0x5652]", res.Data)
	}
}

func TestExceptionResponse(t *testing.T) {
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{{0x11, 0x81, 0x02, 0xC0, 0x54}}
	}
	c := newTestClient(port)

	_, err := c.ReadCoils(0x0013, 0x25)
	if err == nil {
		t.Fatal("expected exception error")
	}
	var merr *ModbusError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *ModbusError, got %T: %v", err, err)
	}
	if merr.ExceptionCode != 2 {
		t.Errorf("exception code: got %d, want 2", merr.ExceptionCode)
	}
	if merr.Message() != "Illegal data address (register not supported by device)" {
		t.Errorf("unexpected exception message: %q", merr.Message())
	}
	if c.GetLastModbusError() != merr {
		t.Error("last modbus error was not cached")
	}
}

func TestBroadcastWriteCompletesImmediately(t *testing.T) {
	port := newFakePort()
	c := newTestClient(port)
	if err := c.SetSlaveID(0); err != nil {
		t.Fatalf("SetSlaveID(0) failed: %v", err)
	}

	res, err := c.WriteCoil(0x00AC, true)
	if err != nil {
		t.Fatalf("broadcast WriteCoil failed: %v", err)
	}
	if res.Address != 0x00AC || !res.State {
		t.Errorf("broadcast result: got %+v", res)
	}

	frame := port.lastWritten()
	if frame[0] != 0 || frame[1] != 5 {
		t.Errorf("broadcast frame header: got % X", frame[:2])
	}
	if !VerifyCRC(frame) {
		t.Error("broadcast frame CRC invalid")
	}
}

func TestBroadcastReadRejected(t *testing.T) {
	port := newFakePort()
	c := newTestClient(port)
	c.SetSlaveID(0)

	if _, err := c.ReadCoils(0, 1); !errors.Is(err, ErrBroadcastNotAllowed) {
		t.Errorf("ReadCoils broadcast: got %v, want ErrBroadcastNotAllowed", err)
	}
	if _, err := c.ReadExceptionStatus(); !errors.Is(err, ErrBroadcastNotAllowed) {
		t.Errorf("ReadExceptionStatus broadcast: got %v, want ErrBroadcastNotAllowed", err)
	}
	if _, err := c.ReadDeviceIdentification(DeviceIDBasic, 0); !errors.Is(err, ErrBroadcastNotAllowed) {
		t.Errorf("ReadDeviceIdentification broadcast: got %v, want ErrBroadcastNotAllowed", err)
	}
}

func TestPortNotOpen(t *testing.T) {
	port := newFakePort()
	port.open = false
	c := newTestClient(port)

	if _, err := c.ReadCoils(0, 1); !errors.Is(err, ErrPortNotOpen) {
		t.Errorf("got %v, want ErrPortNotOpen", err)
	}
}

func TestTimeoutFiresOnce(t *testing.T) {
	port := newFakePort()
	c := newTestClient(port)
	c.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	_, err := c.ReadHoldingRegisters(0x006B, 2)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}

	// a late matching fragment must not fire the old callback again
	port.deliver([]byte{0x11, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52, 0x25, 0x53})
	time.Sleep(20 * time.Millisecond)

	// the engine must accept a fresh transaction afterwards
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{{0x11, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52, 0x25, 0x53}}
	}
	if _, err := c.ReadHoldingRegisters(0x006B, 2); err != nil {
		t.Fatalf("follow-up transaction failed: %v", err)
	}
}

func TestStrayFrameDropped(t *testing.T) {
	port := newFakePort()
	c := newTestClient(port)

	// no transaction pending; must not panic or invoke anything
	port.deliver([]byte{0x11, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52, 0x49, 0xAD})
	_ = c
}

func TestCRCValidation(t *testing.T) {
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{{0x11, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52, 0x00, 0x00}}
	}
	c := newTestClient(port)

	_, err := c.ReadHoldingRegisters(0x006B, 2)
	var cerr *CRCError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CRCError, got %T: %v", err, err)
	}
}

func TestAddressMismatch(t *testing.T) {
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{AppendCRC([]byte{0x12, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52})}
	}
	c := newTestClient(port)

	_, err := c.ReadHoldingRegisters(0x006B, 2)
	var aerr *AddressMismatchError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AddressMismatchError, got %T: %v", err, err)
	}
	if aerr.Expected != 0x11 || aerr.Actual != 0x12 {
		t.Errorf("mismatch detail: %+v", aerr)
	}
}

func TestFunctionMismatch(t *testing.T) {
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{AppendCRC([]byte{0x11, 0x04, 0x04, 0xAE, 0x41, 0x56, 0x52})}
	}
	c := newTestClient(port)

	_, err := c.ReadHoldingRegisters(0x006B, 2)
	var ferr *FunctionMismatchError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected *FunctionMismatchError, got %T: %v", err, err)
	}
}

func TestLengthMismatch(t *testing.T) {
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		// two registers expected, three returned
		return [][]byte{AppendCRC([]byte{0x11, 0x03, 0x06, 0xAE, 0x41, 0x56, 0x52, 0x00, 0x01})}
	}
	c := newTestClient(port)

	_, err := c.ReadHoldingRegisters(0x006B, 2)
	var lerr *LengthError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LengthError, got %T: %v", err, err)
	}
}

func TestDebugCapture(t *testing.T) {
	response := []byte{0x11, 0x03, 0x04, 0xAE, 0x41, 0x56, 0x52, 0x49, 0xAD}
	port := newFakePort()
	port.respond = func(frame []byte) [][]byte {
		return [][]byte{response}
	}
	c := newTestClient(port)
	c.SetDebug(true)
	if !c.IsDebugEnabled() {
		t.Fatal("debug flag did not stick")
	}

	res, err := c.ReadHoldingRegisters(0x006B, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	trace := res.TraceData()
	if len(trace.Request) == 0 {
		t.Error("debug trace is missing the request frame")
	}
	if len(trace.Responses) != 1 || len(trace.Responses[0]) != len(response) {
		t.Errorf("debug trace responses: %v", trace.Responses)
	}
}

func TestTransportErrorFailsTransaction(t *testing.T) {
	port := newFakePort()
	c := newTestClient(port)
	c.SetTimeout(time.Second)

	done := make(chan error, 1)
	c.GoReadHoldingRegisters(0, 1, func(_ *RegistersResult, err error) {
		done <- err
	})
	// let the request land before injecting the error
	deadline := time.After(time.Second)
	for port.lastWritten() == nil {
		select {
		case <-deadline:
			t.Fatal("request never written")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	port.handler.OnError(errors.New("wire fault"))

	select {
	case err := <-done:
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("expected *TransportError, got %T: %v", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestCloseEvent(t *testing.T) {
	port := newFakePort()
	c := NewClient(port)
	c.SetLogger(nil)

	fired := make(chan struct{}, 1)
	c.OnClose(func() { fired <- struct{}{} })

	// close the wire without detaching the engine
	port.Close()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("close event never fired")
	}
}
