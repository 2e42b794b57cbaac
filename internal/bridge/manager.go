package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rfid-bridge/config"
	"rfid-bridge/internal/api"
	"rfid-bridge/internal/model"
	"rfid-bridge/internal/serial"
	"rfid-bridge/internal/socket"
	"rfid-bridge/pkg/logger"

	"github.com/google/uuid"
)

type Option func(*BridgeManager)

// WithSerialOptions is passed through to the serial bridge, e.g. to swap the
// device opener in tests.
func WithSerialOptions(opts ...serial.Option) Option {
	return func(bm *BridgeManager) { bm.serialOpts = append(bm.serialOpts, opts...) }
}

// WithScanHook registers fn to observe the outcome of every forwarded tag.
// It is called synchronously from the read loop.
func WithScanHook(fn func(model.ScanEvent)) Option {
	return func(bm *BridgeManager) { bm.onScan = fn }
}

// BridgeManager reads tags from the serial reader and forwards each one to the
// API before reading the next.
type BridgeManager struct {
	config   *config.Config
	log      *logger.Logger
	serial   *serial.SerialBridge
	api      *api.Client
	wsServer *socket.Server

	serialOpts []serial.Option
	onScan     func(model.ScanEvent)

	mu         sync.Mutex
	httpServer *http.Server
	feedAddr   string

	running atomic.Bool
	sent    atomic.Int64
	failed  atomic.Int64
}

func NewBridgeManager(cfg *config.Config, log *logger.Logger, opts ...Option) *BridgeManager {
	bm := &BridgeManager{
		config:   cfg,
		log:      log,
		api:      api.New(&cfg.HTTPClient),
		wsServer: socket.NewServer(log),
	}
	for _, opt := range opts {
		opt(bm)
	}
	bm.serial = serial.NewSerialBridge(&cfg.SerialBridge, log, bm.serialOpts...)
	return bm
}

// Run opens the serial port and forwards tags until ctx is cancelled or the
// port fails. The returned error is a *model.BridgeError of kind
// InterruptSignal or ConnectionError. The port is released before Run returns.
func (bm *BridgeManager) Run(ctx context.Context) error {
	if !bm.running.CompareAndSwap(false, true) {
		return model.NewError(model.UnexpectedError, errors.New("bridge is already running"))
	}
	defer bm.running.Store(false)

	if err := bm.serial.Connect(); err != nil {
		bm.log.Error("Serial error: %v", err)
		return model.NewError(model.ConnectionError, err)
	}
	defer func() {
		if err := bm.serial.Disconnect(); err != nil {
			bm.log.Error("error disconnecting from serial port: %v", err)
		}
	}()

	// Closing the port is the only way to unblock a pending read.
	stopWatch := context.AfterFunc(ctx, func() {
		if err := bm.serial.Disconnect(); err != nil {
			bm.log.Error("error disconnecting from serial port: %v", err)
		}
	})
	defer stopWatch()

	if bm.config.SocketConfig.Enabled {
		if err := bm.startFeed(); err != nil {
			bm.log.Error("live feed disabled: %v", err)
		} else {
			defer bm.stopFeed()
		}
	}

	bm.log.Info("Listening on %s...", bm.serial.GetPortName())
	bm.log.Info("API endpoint: %s", bm.api.URL())

	for {
		if ctx.Err() != nil {
			return bm.interrupted()
		}

		tag, err := bm.serial.ReadTag()
		if err != nil {
			if ctx.Err() != nil {
				return bm.interrupted()
			}
			bm.log.Error("Serial error: %v", err)
			return model.NewError(model.ConnectionError, err)
		}
		if tag == "" {
			continue
		}

		bm.log.Info("RFID Tag Detected: %s", tag)
		bm.forward(ctx, tag)
	}
}

func (bm *BridgeManager) interrupted() error {
	bm.log.Info("Exiting...")
	return model.NewError(model.InterruptSignal, context.Canceled)
}

// forward sends one tag and reports the outcome. Failures end here.
func (bm *BridgeManager) forward(ctx context.Context, tag string) {
	event := model.ScanEvent{
		ID:        uuid.NewString(),
		UID:       tag,
		Port:      bm.serial.GetPortName(),
		Timestamp: time.Now().UTC(),
	}

	resp, err := bm.api.Send(ctx, tag)
	if err != nil && ctx.Err() != nil {
		bm.log.Debug("send of %s abandoned: %v", tag, err)
		return
	}

	if err == nil {
		bm.sent.Add(1)
		event.Outcome = model.OutcomeSent
		event.StatusCode = resp.StatusCode
		bm.log.Info("✓ Successfully sent to API: %s", resp.Body)
		bm.log.Debug("request %s accepted for %s", resp.RequestID, tag)
	} else {
		bm.failed.Add(1)
		event.Outcome = model.OutcomeFailed
		event.Error = err.Error()
		bm.report(err, &event)
	}

	if bm.config.SocketConfig.Enabled {
		bm.wsServer.BroadcastMessage("scan", event)
	}
	if bm.onScan != nil {
		bm.onScan(event)
	}
}

func (bm *BridgeManager) report(err error, event *model.ScanEvent) {
	var be *model.BridgeError
	if !errors.As(err, &be) {
		event.ErrorKind = model.UnexpectedError.String()
		bm.log.Error("✗ Unexpected error: %v", err)
		return
	}

	event.ErrorKind = be.Kind.String()
	switch be.Kind {
	case model.ApiStatusError:
		event.StatusCode = be.StatusCode
		bm.log.Error("✗ API Error (%d): %s", be.StatusCode, be.Body)
	case model.NetworkError:
		bm.log.Error("✗ Network error: %v", be.Err)
	default:
		bm.log.Error("✗ Unexpected error: %v", be.Err)
	}
}

func (bm *BridgeManager) startFeed() error {
	ln, err := net.Listen("tcp", bm.config.SocketConfig.Port)
	if err != nil {
		return err
	}

	bm.wsServer.Start()
	srv := &http.Server{
		Handler:           bm.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	bm.mu.Lock()
	bm.httpServer = srv
	bm.feedAddr = ln.Addr().String()
	bm.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bm.log.Error("HTTP server error: %v", err)
		}
	}()

	bm.log.Info("WebSocket endpoint: ws://%s/ws", ln.Addr())
	bm.log.Info("Health check: http://%s/health", ln.Addr())
	return nil
}

func (bm *BridgeManager) stopFeed() {
	bm.wsServer.Stop()

	bm.mu.Lock()
	srv := bm.httpServer
	bm.httpServer = nil
	bm.feedAddr = ""
	bm.mu.Unlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		bm.log.Error("HTTP server forced to shutdown: %v", err)
	}
}

// FeedAddr is the address the live feed listens on, empty when it is not running.
func (bm *BridgeManager) FeedAddr() string {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.feedAddr
}

func (bm *BridgeManager) IsRunning() bool {
	return bm.running.Load()
}
